// Package render instantiates email and SMS notification templates for a
// case. Templates live as text/template files in a directory, named after
// the template entity; for email templates the first line of the rendered
// output is the subject and the remainder is the body.
package render

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/engine"
)

// TemplateData is the evaluation context handed to every template.
type TemplateData struct {
	CaseID     string
	CaseType   string
	LegacyCode string
	Answers    map[string]string
}

// Renderer loads and executes notification templates from a directory.
type Renderer struct {
	dir string
}

// New constructs a Renderer over the given template directory.
func New(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// RenderEmail renders the named email template. A missing template file
// yields no message and no error.
func (r *Renderer) RenderEmail(ctx context.Context, rec *casefile.CaseRecord, legacyCode, name string) (*engine.Message, error) {
	out, err := r.execute(rec, legacyCode, name)
	if err != nil || out == "" {
		return nil, err
	}
	subject, body, _ := strings.Cut(out, "\n")
	return &engine.Message{
		Kind:       engine.MessageEmail,
		CaseID:     rec.CaseID(),
		Template:   name,
		LegacyCode: legacyCode,
		Subject:    strings.TrimSpace(subject),
		Body:       strings.TrimSpace(body),
	}, nil
}

// RenderSMS renders the named SMS template. A missing template file yields
// no message and no error.
func (r *Renderer) RenderSMS(ctx context.Context, rec *casefile.CaseRecord, legacyCode, name string) (*engine.Message, error) {
	out, err := r.execute(rec, legacyCode, name)
	if err != nil || out == "" {
		return nil, err
	}
	return &engine.Message{
		Kind:       engine.MessageSMS,
		CaseID:     rec.CaseID(),
		Template:   name,
		LegacyCode: legacyCode,
		Body:       strings.TrimSpace(out),
	}, nil
}

func (r *Renderer) execute(rec *casefile.CaseRecord, legacyCode, name string) (string, error) {
	path := filepath.Join(r.dir, name+".tmpl")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return "", err
	}

	data := TemplateData{
		CaseID:     rec.CaseID(),
		CaseType:   rec.CaseType(),
		LegacyCode: legacyCode,
		Answers:    make(map[string]string),
	}
	for _, a := range rec.Answers() {
		label := a.Label
		if label == "" {
			label = a.Field
		}
		data.Answers[label] = a.Value
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
