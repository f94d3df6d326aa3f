package discovery

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/paramhunt/internal/core"
	"github.com/PuerkitoBio/goquery"
)

// ParseForms extracts every form on a saved HTML page. Actions are resolved
// against pageURL; a missing action means the page itself.
func ParseForms(r io.Reader, pageURL string) ([]FormInfo, error) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: page url must be absolute: %q", core.ErrValidation, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var forms []FormInfo
	doc.Find("form").Each(func(i int, sel *goquery.Selection) {
		form := FormInfo{
			Action: base.String(),
			Method: "GET",
			Inputs: []InputInfo{},
		}

		if action, exists := sel.Attr("action"); exists && strings.TrimSpace(action) != "" {
			if ref, err := base.Parse(strings.TrimSpace(action)); err == nil {
				form.Action = ref.String()
			}
		}

		if method, exists := sel.Attr("method"); exists && method != "" {
			form.Method = strings.ToUpper(method)
		}

		sel.Find("input[name], select[name], textarea[name], button[name]").Each(func(j int, input *goquery.Selection) {
			name, _ := input.Attr("name")
			name = strings.TrimSpace(name)
			if name == "" {
				return
			}

			info := InputInfo{Name: name, Type: goquery.NodeName(input)}
			if inputType, exists := input.Attr("type"); exists {
				info.Type = strings.ToLower(inputType)
			}
			if value, exists := input.Attr("value"); exists {
				info.Value = value
			}
			form.Inputs = append(form.Inputs, info)
		})

		forms = append(forms, form)
	})

	return forms, nil
}

// ExtractForms returns one observation per distinct (action, input name)
// pair found in the page's forms, in document order.
func ExtractForms(r io.Reader, pageURL string) ([]Observation, error) {
	forms, err := ParseForms(r, pageURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]struct{})
	var obs []Observation
	for _, form := range forms {
		for _, input := range form.Inputs {
			key := [2]string{form.Action, input.Name}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			obs = append(obs, Observation{URL: form.Action, Name: input.Name, Source: SourceForm})
		}
	}
	return obs, nil
}
