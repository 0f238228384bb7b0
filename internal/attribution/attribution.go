// Package attribution renders the provider-mandated credit block that is
// inserted into content alongside an imported image.
package attribution

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	errordefs "github.com/RegistryAccord/registryaccord-imageapi-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-imageapi-go/internal/model"
)

const unsplashHome = "https://unsplash.com/"

// Input describes one imported image to attribute.
type Input struct {
	ImageURL     string // Absolute URL of the imported asset
	Provider     string
	AltText      string
	AuthorName   string
	AuthorURL    string
	WebURL       string // Provider page of the original
	AppName      string // utm_source for Unsplash links
	IsHTMLEditor bool
	LogoURL      string // Absolute URL of the Powered by GIPHY badge
}

// Render returns the Markdown or HTML block for in.
func Render(in Input) (string, error) {
	switch in.Provider {
	case model.ProviderUnsplash:
		if in.IsHTMLEditor {
			return unsplashHTML(in), nil
		}
		return unsplashMarkdown(in), nil
	case model.ProviderGiphy:
		if in.LogoURL == "" {
			return "", errordefs.New(errordefs.IMG_INTERNAL, "giphy attribution requires a logo url", "")
		}
		if in.IsHTMLEditor {
			return giphyHTML(in), nil
		}
		return giphyMarkdown(in), nil
	}
	return "", errordefs.Validation("no attribution format for provider %q", in.Provider)
}

// referral appends the Unsplash referral parameters to a profile or home URL.
func referral(base, appName string) string {
	return strings.TrimRight(base, "/") + "/?utm_source=" + url.QueryEscape(appName) + "&utm_medium=referral"
}

// mdEscaper backslash-escapes the characters that would end a link label or
// open a link target.
var mdEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`)

func unsplashMarkdown(in Input) string {
	credit := "Photo"
	if in.AuthorName != "" {
		name := mdEscaper.Replace(in.AuthorName)
		credit = "Photo by " + name
		if in.AuthorURL != "" {
			credit = fmt.Sprintf("Photo by [%s](%s)", name, referral(in.AuthorURL, in.AppName))
		}
	}
	return fmt.Sprintf("![%s](%s)\n%s on [Unsplash](%s)",
		mdEscaper.Replace(in.AltText), in.ImageURL, credit, referral(unsplashHome, in.AppName))
}

func unsplashHTML(in Input) string {
	credit := "Photo"
	if in.AuthorName != "" {
		name := html.EscapeString(in.AuthorName)
		credit = "Photo by " + name
		if in.AuthorURL != "" {
			credit = fmt.Sprintf(`Photo by <a href="%s">%s</a>`, html.EscapeString(referral(in.AuthorURL, in.AppName)), name)
		}
	}
	return fmt.Sprintf(`<div><img src="%s" alt="%s" /><p>%s on <a href="%s">Unsplash</a></p></div>`,
		html.EscapeString(in.ImageURL),
		html.EscapeString(in.AltText),
		credit,
		html.EscapeString(referral(unsplashHome, in.AppName)))
}

func giphyMarkdown(in Input) string {
	return fmt.Sprintf("![%s](%s)\n[![](%s)](%s)", mdEscaper.Replace(in.AltText), in.ImageURL, in.LogoURL, in.WebURL)
}

func giphyHTML(in Input) string {
	return fmt.Sprintf(`<div><img src="%s" alt="%s" /><a href="%s"><img src="%s" alt="Powered by GIPHY" /></a></div>`,
		html.EscapeString(in.ImageURL),
		html.EscapeString(in.AltText),
		html.EscapeString(in.WebURL),
		html.EscapeString(in.LogoURL))
}

var schemeRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:`)

// AbsoluteURL returns u unchanged when it carries a scheme, otherwise base and
// u joined by exactly one slash.
func AbsoluteURL(base, u string) string {
	if schemeRE.MatchString(u) {
		return u
	}
	if base == "" {
		return u
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(u, "/")
}
