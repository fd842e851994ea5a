package publish

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/page.html
var templateFiles embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFiles, "templates/page.html"))

// ClientScriptPath is where the browser client is served when configured.
const ClientScriptPath = "/ooui.js"

type pageData struct {
	Title         string
	WebSocketPath string
	ClientScript  string
}

// RenderPage renders the bootstrap document for a page. The client connects
// back to the same path over a websocket.
func RenderPage(title, wsPath string, withScript bool) ([]byte, error) {
	data := pageData{Title: title, WebSocketPath: wsPath}
	if withScript {
		data.ClientScript = ClientScriptPath
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
