package tenant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/d9705996/clientpulse/internal/model"
)

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,61}[a-z0-9]$`)
	colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTenant, fmt.Sprintf(format, args...))
}

func validateTenant(t *model.Tenant) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return invalid("name is required")
	}
	if !slugRe.MatchString(t.Slug) {
		return invalid("slug %q must be 2-63 characters of a-z, 0-9 and '-', not starting or ending with '-'", t.Slug)
	}
	if !t.Kind.Valid() {
		return invalid("unknown kind %q", t.Kind)
	}
	cats, err := normalizeList("category", t.Categories)
	if err != nil {
		return err
	}
	t.Categories = cats
	if t.PrimaryColor != "" && !colorRe.MatchString(t.PrimaryColor) {
		return invalid("primary colour %q must look like #1a2b3c", t.PrimaryColor)
	}
	return nil
}

func validateFeed(f *model.Feed) error {
	if _, err := model.ParseFeedKind(string(f.Kind)); err != nil {
		return invalid("%v", err)
	}
	f.Locator = strings.TrimSpace(f.Locator)
	if f.Locator == "" {
		return invalid("feed locator is required")
	}
	f.Name = strings.TrimSpace(f.Name)
	subs, err := normalizeList("sub-source", f.SubSources)
	if err != nil {
		return err
	}
	f.SubSources = subs
	return nil
}

// normalizeList trims entries, drops case-insensitive duplicates keeping the
// first spelling, and rejects blanks.
func normalizeList(what string, in []string) (model.StringSlice, error) {
	out := make(model.StringSlice, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, invalid("blank %s", what)
		}
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out, nil
}
