package web

import (
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strings"
)

// handleResponse renders a stored response: JSON for API clients, a
// small HTML page for browsers.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.responses == nil {
		s.notFound(w, r, "response storage disabled")
		return
	}
	resp := s.responses.Get(id)
	if resp == nil {
		s.notFound(w, r, "response not found")
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	audioURL := ""
	if resp.AudioFilename != "" {
		clipID := strings.TrimSuffix(filepath.Base(resp.AudioFilename), ".mp3")
		audioURL = "/audio/" + clipID
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := responseTemplate.Execute(w, map[string]any{
		"Project":      resp.Project,
		"Summary":      resp.Summary,
		"FullResponse": resp.FullResponse,
		"UserPrompt":   resp.UserPrompt,
		"AudioURL":     audioURL,
	}); err != nil {
		s.logger.Debug("response render failed", "error", err)
	}
}

// handleAudio serves a generated clip by id. Ids are uuid-shaped; any
// path metacharacter is a 404, never a filesystem walk.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || strings.ContainsAny(id, "/\\.") {
		s.notFound(w, r, "audio not found")
		return
	}
	path := filepath.Join(s.cfg.AudioDir, id+".mp3")
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

// handleLatestResponse returns the newest stored response for a
// project.
func (s *Server) handleLatestResponse(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("name")
	if s.responses == nil {
		s.notFound(w, r, "response storage disabled")
		return
	}
	resp := s.responses.LatestByProject(project)
	if resp == nil {
		s.notFound(w, r, "no responses for project")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": msg})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>404</h1><p>%s</p></body></html>", template.HTMLEscapeString(msg))
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

var responseTemplate = template.Must(template.New("response").Parse(`<!DOCTYPE html>
<html>
<head><title>trak: {{.Project}}</title></head>
<body>
<h1>{{.Project}}</h1>
{{with .Summary}}<p>{{.TaskCompleted}}</p>
{{if .KeyOutcomes}}<ul>{{range .KeyOutcomes}}<li>{{.}}</li>{{end}}</ul>{{end}}{{end}}
{{if .AudioURL}}<audio controls src="{{.AudioURL}}"></audio>{{end}}
{{if .UserPrompt}}<h2>Prompt</h2><pre>{{.UserPrompt}}</pre>{{end}}
{{if .FullResponse}}<h2>Response</h2><pre>{{.FullResponse}}</pre>{{end}}
</body>
</html>
`))
