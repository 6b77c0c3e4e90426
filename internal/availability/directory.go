package availability

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/tartampluch/go-schedule/internal/config"
)

// Directory maps teacher ids to display names, read from a vCard file
// where each card's UID is the teacher id.
type Directory struct {
	names map[string]string
}

// LoadDirectory reads the vCard file at path.
func LoadDirectory(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrVCardParse, err)
	}
	defer func() { _ = f.Close() }()
	return ParseDirectory(f)
}

// ParseDirectory decodes every card of r. Malformed cards are skipped.
func ParseDirectory(r io.Reader) (*Directory, error) {
	log := slog.With(config.LogKeyComponent, config.CompDirectory)
	d := &Directory{names: make(map[string]string)}
	dec := vcard.NewDecoder(r)

	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep going to recover as many contacts as possible.
			log.Warn(config.MsgSkippedContact, config.LogKeyError, err)
			continue
		}

		uid := strings.TrimSpace(card.Value(config.VCardUID))
		if uid == "" {
			continue
		}
		d.names[uid] = displayName(card)
	}
	return d, nil
}

// displayName picks FN, then a name built from N, then the UID.
func displayName(card vcard.Card) string {
	if fn := strings.TrimSpace(card.Value(config.VCardFN)); fn != "" {
		return fn
	}
	if n := card.Name(); n != nil {
		full := strings.TrimSpace(strings.Join([]string{n.GivenName, n.FamilyName}, " "))
		if full != "" {
			return full
		}
	}
	return card.Value(config.VCardUID)
}

// Name returns the display name of id, or id itself when unknown.
func (d *Directory) Name(id string) string {
	if d != nil {
		if name, ok := d.names[id]; ok {
			return name
		}
	}
	return id
}

// Len returns the number of teachers known.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names)
}
