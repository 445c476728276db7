// Package horizon discovers the time horizon of a simulation result archive.
//
// A result archive is a zip container holding one solution manifest, an XML
// dataset whose t_period_0 records each carry a datetime child formatted as
// DD/MM/YYYY HH:MM:SS. The horizon is the earliest and latest of those
// timestamps. The manifest is streamed; it is never loaded whole.
package horizon

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/HatiCode/solpivot/pkg/window"
)

// DefaultManifestSuffix is the file name suffix of the solution manifest inside an archive.
const DefaultManifestSuffix = "Solution.xml"

const (
	periodElement   = "t_period_0"
	datetimeElement = "datetime"
	datetimeLayout  = "02/01/2006 15:04:05"
)

var (
	// ErrNotFound means the archive has no manifest or the manifest has no
	// parseable time periods. Callers must not partition queries in that case.
	ErrNotFound = errors.New("horizon not found")
	// ErrArchiveUnreadable means the archive or its manifest could not be read.
	ErrArchiveUnreadable = errors.New("archive unreadable")
)

// Scan is the outcome of reading one manifest.
type Scan struct {
	Horizon window.Horizon
	// Records counts the period records that parsed.
	Records int
	// Skipped counts the period records whose datetime did not parse.
	Skipped int
}

// Reader reads horizons from result archives.
type Reader struct {
	// ManifestSuffix selects the manifest member. Defaults to DefaultManifestSuffix.
	ManifestSuffix string
	Logger         *slog.Logger
}

// NewReader creates a Reader with the default manifest suffix.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{ManifestSuffix: DefaultManifestSuffix, Logger: logger}
}

// Read returns the horizon of the archive at path.
func (r *Reader) Read(path string) (window.Horizon, error) {
	scan, err := r.ReadScan(path)
	if err != nil {
		return window.Horizon{}, err
	}
	return scan.Horizon, nil
}

// ReadScan is Read with record counts.
func (r *Reader) ReadScan(path string) (Scan, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Scan{}, fmt.Errorf("%w: %s: %w", ErrArchiveUnreadable, path, err)
	}
	defer zr.Close()

	suffix := r.ManifestSuffix
	if suffix == "" {
		suffix = DefaultManifestSuffix
	}

	var manifest *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, suffix) {
			manifest = f
			break
		}
	}
	if manifest == nil {
		return Scan{}, fmt.Errorf("%w: %s has no member ending in %q", ErrNotFound, path, suffix)
	}

	rc, err := manifest.Open()
	if err != nil {
		return Scan{}, fmt.Errorf("%w: open %s: %w", ErrArchiveUnreadable, manifest.Name, err)
	}
	defer rc.Close()

	scan, err := r.Scan(rc)
	if err != nil {
		return Scan{}, fmt.Errorf("%s: %w", path, err)
	}

	r.logger().Debug("read horizon",
		"archive", path,
		"manifest", manifest.Name,
		"start", scan.Horizon.Start.Format(time.DateTime),
		"end", scan.Horizon.End.Format(time.DateTime),
		"records", scan.Records,
		"skipped", scan.Skipped,
	)
	return scan, nil
}

// Scan folds the period records of a manifest stream into a horizon.
// Records with an unparseable datetime are logged and skipped.
func (r *Reader) Scan(src io.Reader) (Scan, error) {
	dec := xml.NewDecoder(src)
	log := r.logger()

	var (
		scan     Scan
		inPeriod int
		found    bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Scan{}, fmt.Errorf("%w: manifest: %w", ErrArchiveUnreadable, err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch {
			case el.Name.Local == periodElement:
				inPeriod++
			case inPeriod > 0 && el.Name.Local == datetimeElement:
				var text string
				if err := dec.DecodeElement(&text, &el); err != nil {
					return Scan{}, fmt.Errorf("%w: manifest: %w", ErrArchiveUnreadable, err)
				}
				ts, err := time.Parse(datetimeLayout, strings.TrimSpace(text))
				if err != nil {
					scan.Skipped++
					log.Warn("skipping unparseable period datetime", "value", text, "error", err)
					continue
				}
				scan.Records++
				if !found || ts.Before(scan.Horizon.Start) {
					scan.Horizon.Start = ts
				}
				if !found || ts.After(scan.Horizon.End) {
					scan.Horizon.End = ts
				}
				found = true
			}
		case xml.EndElement:
			if el.Name.Local == periodElement && inPeriod > 0 {
				inPeriod--
			}
		}
	}

	if !found {
		return Scan{}, fmt.Errorf("%w: no parseable %s records", ErrNotFound, periodElement)
	}
	return scan, nil
}

func (r *Reader) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
