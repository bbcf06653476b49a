package reconcile

import (
	"bytes"
	"html/template"

	"github.com/vbonduro/placemap/internal/domain"
)

var popupTmpl = template.Must(template.New("popup").Parse(
	`<div class="popup popup-{{.Kind}}">` +
		`<strong>{{.Name}}</strong>` +
		`<span class="popup-kind">{{.Label}}{{if .Category}} · {{.Category}}{{end}}</span>` +
		`{{if .Description}}<p>{{.Description}}</p>{{end}}` +
		`{{if .PhotoURL}}<img src="{{.PhotoURL}}" alt="{{.Name}}" loading="lazy">{{end}}` +
		`</div>`))

type popupData struct {
	Kind        string
	Label       string
	Name        string
	Category    string
	Description string
	PhotoURL    string
}

func renderPopup(e domain.Entry) (string, error) {
	label := "Artesano"
	if e.Kind == domain.KindPlace {
		label = "Lugar"
	}
	var buf bytes.Buffer
	err := popupTmpl.Execute(&buf, popupData{
		Kind:        e.Kind.String(),
		Label:       label,
		Name:        e.Name,
		Category:    e.Category,
		Description: e.Description,
		PhotoURL:    e.PhotoURL,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
