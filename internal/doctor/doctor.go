// Package doctor checks configuration, server connectivity and the report archive.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/13rac1/sqpurge/internal/manifest"
	"github.com/13rac1/sqpurge/internal/redactor"
	"github.com/13rac1/sqpurge/internal/sonarqube"
	"github.com/13rac1/sqpurge/internal/types"
	"github.com/fatih/color"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func checkmark() string {
	return okColor.Sprint("✓")
}

func crossmark() string {
	return failColor.Sprint("✗")
}

func skipmark() string {
	return dimColor.Sprint("-")
}

// Prober fetches the first search page of a server.
type Prober interface {
	FirstPage(ctx context.Context, params sonarqube.SearchParams) (*sonarqube.SearchPage, error)
}

// IndexLoader reads the report archive index.
type IndexLoader interface {
	Index(ctx context.Context) (*manifest.Manifest, error)
}

// Input is what the checks inspect. Server and Archive may be nil when they
// could not be constructed.
type Input struct {
	Config      *types.Config
	ConfigPath  string
	ConfigFound bool
	Server      Prober
	Archive     IndexLoader
	ArchiveErr  error // why Archive is nil despite a configured bucket
}

// RunChecks performs all doctor checks, writing the report to w, and returns
// whether all passed.
func RunChecks(ctx context.Context, w io.Writer, in Input) bool {
	p := message.NewPrinter(language.English)
	cfg := in.Config

	fmt.Fprintln(w, "sqpurge doctor - Configuration and connectivity check")
	fmt.Fprintln(w)

	allPassed := true

	fmt.Fprintln(w, "Configuration:")
	if in.ConfigFound {
		fmt.Fprintf(w, "  %s Config file loaded: %s\n", checkmark(), in.ConfigPath)
	} else {
		fmt.Fprintf(w, "  %s No config file at %s (using flags and environment)\n", skipmark(), in.ConfigPath)
		fmt.Fprintf(w, "    → Run 'sqpurge config init' to create one\n")
	}

	tokenOK := cfg.SonarQube.UserToken != ""
	if tokenOK {
		fmt.Fprintf(w, "  %s User token set: %s\n", checkmark(), redactor.Mask(cfg.SonarQube.UserToken))
	} else {
		fmt.Fprintf(w, "  %s User token not set\n", crossmark())
		fmt.Fprintf(w, "    → Use --user_token, SQ_USER_TOKEN or sonarqube.user_token in %s\n", in.ConfigPath)
		allPassed = false
	}

	urlOK := false
	switch err := checkURL(cfg.SonarQube.URL); {
	case cfg.SonarQube.URL == "":
		fmt.Fprintf(w, "  %s Server URL not set\n", crossmark())
		fmt.Fprintf(w, "    → Use --sonarqube_url, SQ_URL or sonarqube.sonarqube_url in %s\n", in.ConfigPath)
		allPassed = false
	case err != nil:
		fmt.Fprintf(w, "  %s Server URL invalid: %s\n", crossmark(), redactor.Redact(cfg.SonarQube.URL))
		fmt.Fprintf(w, "    → %v\n", err)
		allPassed = false
	default:
		urlOK = true
		fmt.Fprintf(w, "  %s Server URL: %s\n", checkmark(), redactor.Redact(cfg.SonarQube.URL))
	}

	fmt.Fprintf(w, "  %s Results file: %s (format: %s)\n", checkmark(), cfg.Output.File, cfg.Output.Format)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SonarQube server:")
	switch {
	case !tokenOK || !urlOK || in.Server == nil:
		fmt.Fprintf(w, "  %s Skipped (credentials incomplete)\n", skipmark())
	default:
		page, err := in.Server.FirstPage(ctx, sonarqube.SearchParams{})
		if err != nil {
			reportProbeError(w, err)
			allPassed = false
			break
		}
		fmt.Fprintf(w, "  %s Server reachable and token accepted\n", checkmark())
		fmt.Fprintf(w, "  %s %s\n", checkmark(), p.Sprintf("%d projects visible to this token", page.Paging.Total))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Report archive:")
	if cfg.Archive.Bucket == "" {
		fmt.Fprintf(w, "  %s Not configured (--archive has no effect)\n", skipmark())
	} else {
		fmt.Fprintf(w, "  %s Bucket: %s (region %s, prefix %q)\n", checkmark(), cfg.Archive.Bucket, cfg.Archive.Region, cfg.Archive.Prefix)
		if cfg.Archive.Endpoint != "" {
			fmt.Fprintf(w, "  %s Endpoint: %s\n", checkmark(), cfg.Archive.Endpoint)
		}

		switch {
		case in.Archive == nil:
			fmt.Fprintf(w, "  %s Cannot create storage client\n", crossmark())
			if in.ArchiveErr != nil {
				fmt.Fprintf(w, "    → Error: %v\n", in.ArchiveErr)
			}
			allPassed = false
		default:
			m, err := in.Archive.Index(ctx)
			if err != nil {
				fmt.Fprintf(w, "  %s Cannot read report index\n", crossmark())
				fmt.Fprintf(w, "    → Error: %v\n", err)
				allPassed = false
				break
			}
			fmt.Fprintf(w, "  %s %s\n", checkmark(), p.Sprintf("%d reports archived", len(m.Reports)))
			if byAction := m.CountByAction(); len(byAction) > 0 {
				parts := make([]string, 0, len(byAction))
				for _, action := range slices.Sorted(maps.Keys(byAction)) {
					parts = append(parts, p.Sprintf("%s %d", action, byAction[action]))
				}
				fmt.Fprintf(w, "  %s By action: %s\n", checkmark(), strings.Join(parts, ", "))
			}
			if key, e, ok := m.Latest(); ok {
				fmt.Fprintf(w, "  %s Latest: %s (%s)\n", checkmark(), key, e.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
			}
		}
	}

	fmt.Fprintln(w)
	printSummary(w, allPassed)
	return allPassed
}

func checkURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is missing")
	}
	return nil
}

func reportProbeError(w io.Writer, err error) {
	var se *sonarqube.StatusError
	if !errors.As(err, &se) {
		fmt.Fprintf(w, "  %s Cannot reach server\n", crossmark())
		fmt.Fprintf(w, "    → Error: %v\n", err)
		return
	}

	switch se.StatusCode {
	case http.StatusUnauthorized:
		fmt.Fprintf(w, "  %s Token rejected (status %d)\n", crossmark(), se.StatusCode)
		fmt.Fprintf(w, "    → Check that the token is valid and not expired\n")
	case http.StatusForbidden:
		fmt.Fprintf(w, "  %s Token lacks permission to browse projects (status %d)\n", crossmark(), se.StatusCode)
		fmt.Fprintf(w, "    → Deleting projects needs the Administer System permission\n")
	default:
		fmt.Fprintf(w, "  %s Server answered with status %d\n", crossmark(), se.StatusCode)
		if se.Body != "" {
			fmt.Fprintf(w, "    → Response: %s\n", redactor.Redact(se.Body))
		}
	}
}

func printSummary(w io.Writer, allPassed bool) {
	if allPassed {
		fmt.Fprintln(w, "All checks passed! Ready to use sqpurge.")
	} else {
		fmt.Fprintln(w, "Some checks failed. Please fix the issues above.")
	}
}
