package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	relerrors "github.com/Aman-CERP/relindex/internal/errors"
)

// importLine is one JSON Lines entry. Type selects the target table.
type importLine struct {
	Type string `json:"type"`

	// release
	ID         int64     `json:"id"`
	GUID       string    `json:"guid"`
	Name       string    `json:"name"`
	SearchName string    `json:"searchname"`
	FromName   string    `json:"fromname"`
	CategoryID int       `json:"categories_id"`
	Size       int64     `json:"size"`
	TotalPart  int       `json:"totalpart"`
	AddDate    time.Time `json:"adddate"`
	Files      []string  `json:"files"`

	// predb
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Source   string `json:"source"`

	// blacklist
	Regex       string `json:"regex"`
	MsgCol      int    `json:"msgcol"`
	Description string `json:"description"`
}

// ImportStats counts the rows written by Import.
type ImportStats struct {
	Releases   int
	Predb      int
	Blacklists int
}

// Import reads JSON Lines from r and inserts each entry. Blank lines are
// skipped. The first bad line stops the import and is reported by number.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}

		var line importLine
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return stats, relerrors.ValidationError(fmt.Sprintf("line %d: invalid JSON", lineNo), err)
		}

		switch line.Type {
		case "release", "":
			_, err := s.InsertRelease(ctx, Release{
				ID:         line.ID,
				GUID:       line.GUID,
				Name:       line.Name,
				SearchName: line.SearchName,
				FromName:   line.FromName,
				CategoryID: line.CategoryID,
				Size:       line.Size,
				FileCount:  line.TotalPart,
				AddDate:    line.AddDate,
				Files:      line.Files,
			})
			if err != nil {
				return stats, fmt.Errorf("line %d: %w", lineNo, err)
			}
			stats.Releases++
		case "predb":
			if line.Title == "" {
				return stats, relerrors.ValidationError(fmt.Sprintf("line %d: predb entry without title", lineNo), nil)
			}
			if _, err := s.InsertPredb(ctx, Predb{ID: line.ID, Title: line.Title, Filename: line.Filename, Source: line.Source}); err != nil {
				return stats, fmt.Errorf("line %d: %w", lineNo, err)
			}
			stats.Predb++
		case "blacklist":
			col := line.MsgCol
			if col == 0 {
				col = ColumnSubject
			}
			if _, err := s.InsertBlacklist(ctx, line.Regex, col, line.Description); err != nil {
				return stats, fmt.Errorf("line %d: %w", lineNo, err)
			}
			stats.Blacklists++
		default:
			return stats, relerrors.ValidationError(fmt.Sprintf("line %d: unknown entry type %q", lineNo, line.Type), nil)
		}
	}
	if err := sc.Err(); err != nil {
		return stats, relerrors.New(relerrors.ErrCodeCatalogRead, "read import stream", err)
	}
	return stats, nil
}
