package shell

import "regexp"

// longRunningPattern recognizes one family of commands that block forever
// once started: dev servers, file watchers, and databases. Modeled on the
// tools/security dangerous-intent pattern list — an ordered, case-insensitive
// regex per family, first match wins.
type longRunningPattern struct {
	name string
	re   *regexp.Regexp
}

// longRunningPatterns covers the command families spec §4.B.4 names
// explicitly (dev servers, watchers, HTTP servers, database/nuxt/next/vite)
// plus the frameworks and databases that share the same always-foreground
// shape.
var longRunningPatterns = []longRunningPattern{
	{"npm-script", regexp.MustCompile(`(?i)\bnpm\s+(run\s+)?(dev|start|serve|watch)\b`)},
	{"yarn-script", regexp.MustCompile(`(?i)\byarn\s+(dev|start|serve|watch)\b`)},
	{"pnpm-script", regexp.MustCompile(`(?i)\bpnpm\s+(run\s+)?(dev|start|serve|watch)\b`)},
	{"next-dev", regexp.MustCompile(`(?i)\bnext\s+(dev|start)\b`)},
	{"nuxt-dev", regexp.MustCompile(`(?i)\bnuxt\s+(dev|start)\b`)},
	{"vite", regexp.MustCompile(`(?i)\bvite\b(\s+(dev|serve|preview))?`)},
	{"webpack-dev-server", regexp.MustCompile(`(?i)\bwebpack(-dev-server\b|\s+serve\b)`)},
	{"http-server", regexp.MustCompile(`(?i)\bpython3?\s+-m\s+http\.server\b`)},
	{"flask-run", regexp.MustCompile(`(?i)\bflask\s+run\b`)},
	{"rails-server", regexp.MustCompile(`(?i)\brails\s+s(erver)?\b`)},
	{"django-runserver", regexp.MustCompile(`(?i)\bmanage\.py\s+runserver\b`)},
	{"uvicorn", regexp.MustCompile(`(?i)\buvicorn\b`)},
	{"gunicorn", regexp.MustCompile(`(?i)\bgunicorn\b`)},
	{"nodemon", regexp.MustCompile(`(?i)\bnodemon\b`)},
	{"ng-serve", regexp.MustCompile(`(?i)\bng\s+serve\b`)},
	{"docker-compose-up", regexp.MustCompile(`(?i)\bdocker(\s+compose|-compose)\s+up\b`)},
	{"postgres", regexp.MustCompile(`(?i)\b(postgres|postmaster|pg_ctl\s+start)\b`)},
	{"mysqld", regexp.MustCompile(`(?i)\bmysqld\b`)},
	{"redis-server", regexp.MustCompile(`(?i)\bredis-server\b`)},
	{"watch-flag", regexp.MustCompile(`(?i)(^|\s)(--watch|-w)(\s|$)`)},
}

// IsLongRunningCommand reports whether cmd matches a well-known
// long-running-server pattern (spec §4.B.4) and should therefore run
// detached rather than block the turn waiting for an exit that never
// comes.
func IsLongRunningCommand(cmd string) bool {
	for _, p := range longRunningPatterns {
		if p.re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// listeningURLPattern matches the http(s) URL a dev server prints in its
// startup banner ("Local: http://localhost:3000/", "Listening on
// http://0.0.0.0:8080").
var listeningURLPattern = regexp.MustCompile(`https?://[^\s"'\x60]+`)

// DiscoverListeningURL scans output captured during the fixed startup
// window and returns the first http(s) URL it finds, or "" if the process
// hasn't printed one yet.
func DiscoverListeningURL(output string) string {
	return listeningURLPattern.FindString(output)
}
