package comment

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/holon-run/prquiz/pkg/quiz"
)

//go:embed locales/*.toml
var localeFS embed.FS

// DefaultLanguage is used when no language is configured or the configured
// one has no translation.
const DefaultLanguage = "en"

// Renderer produces the Markdown bodies and decision messages in one language.
type Renderer struct {
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	lang      string
}

// NewRenderer loads the embedded translations. An unknown language falls back
// to English.
func NewRenderer(lang string) (*Renderer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("error reading locales: %w", err)
	}
	for _, entry := range entries {
		file := path.Join("locales", entry.Name())
		data, err := localeFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error reading locale file %s: %w", file, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, entry.Name()); err != nil {
			return nil, fmt.Errorf("error loading locale file %s: %w", file, err)
		}
	}

	resolved := DefaultLanguage
	if lang != "" && Supported(bundle, lang) {
		resolved = lang
	}

	return &Renderer{
		bundle:    bundle,
		localizer: i18n.NewLocalizer(bundle, resolved, DefaultLanguage),
		lang:      resolved,
	}, nil
}

// Supported reports whether bundle has messages for lang.
func Supported(bundle *i18n.Bundle, lang string) bool {
	tag, err := language.Parse(lang)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	for _, t := range bundle.LanguageTags() {
		if b, _ := t.Base(); b == base {
			return true
		}
	}
	return false
}

// Language returns the language actually used.
func (r *Renderer) Language() string {
	return r.lang
}

func (r *Renderer) msg(id string, data map[string]interface{}) string {
	out, err := r.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if err != nil {
		return "Translation missing: " + id
	}
	return out
}

// RenderQuiz is the tracking comment body pointing the author to the quiz.
func (r *Renderer) RenderQuiz(subject quiz.Subject) string {
	sections := []string{
		r.msg("quiz_title", nil),
		r.msg("quiz_intro", nil),
		r.msg("quiz_instructions_heading", nil) + "\n\n" + r.msg("quiz_instructions", nil),
		r.msg("quiz_link", map[string]interface{}{"URL": subject.URL}),
		r.msg("quiz_info_heading", nil) + "\n\n" + strings.Join([]string{
			r.msg("quiz_id", map[string]interface{}{"ID": subject.ID}),
			r.msg("quiz_blocked", nil),
			r.msg("quiz_anyone", nil),
		}, "\n"),
		"---\n\n" + r.msg("footer", nil),
	}
	return strings.Join(sections, "\n\n")
}

// RenderAuthError is the tracking comment body when the service refused the
// credential.
func (r *Renderer) RenderAuthError(authErr *quiz.AuthError) string {
	sections := []string{
		r.msg("auth_title", nil),
		r.msg("auth_"+string(authErr.Code), nil),
	}
	if authErr.Message != "" {
		sections = append(sections, "> "+r.msg("auth_detail", map[string]interface{}{"Message": authErr.Message}))
	}
	sections = append(sections, "---\n\n"+r.msg("footer", nil))
	return strings.Join(sections, "\n\n")
}

// Approved is the success message.
func (r *Renderer) Approved(attempts int) string {
	return r.msg("decision_approved", map[string]interface{}{"Attempts": attempts})
}

// Rejected is the failure message when the last observed status was FAILED.
func (r *Renderer) Rejected(url string) string {
	return r.msg("decision_rejected", map[string]interface{}{"URL": url})
}

// TimedOut is the failure message when attempts ran out without a verdict.
func (r *Renderer) TimedOut(url string) string {
	return r.msg("decision_timeout", map[string]interface{}{"URL": url})
}

// Unauthorized is the failure message for a refused credential.
func (r *Renderer) Unauthorized(code quiz.AuthCode) string {
	return r.msg("decision_unauthorized", map[string]interface{}{"Code": string(code)})
}
