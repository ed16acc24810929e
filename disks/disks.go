// Package disks holds the tables describing the player models and removable
// cards the storage engine knows about. The tables are embedded CSV files
// using '|' as the separator.
package disks

import (
	_ "embed"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// Signature is the two-byte model signature stamped into every record of the
// internal allocation table.
type Signature [2]byte

// UnmarshalCSV decodes a signature written as four hex digits.
func (sig *Signature) UnmarshalCSV(value string) error {
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return err
	}
	if len(decoded) != len(sig) {
		return fmt.Errorf("signature must be %d bytes, got %d", len(sig), len(decoded))
	}
	copy(sig[:], decoded)
	return nil
}

func (sig Signature) MarshalCSV() (string, error) {
	return hex.EncodeToString(sig[:]), nil
}

// Model describes one player model's internal memory.
type Model struct {
	Slug       string `csv:"slug"`
	Name       string `csv:"name"`
	InternalMB uint   `csv:"internal_mb"`
	// Chips is the number of flash chips making up internal memory. Allocation
	// table links address blocks as (chip, offset) pairs.
	Chips uint `csv:"chips"`
	// Megablock is set for chips that erase 256 sectors at a time instead of 32.
	Megablock       bool      `csv:"megablock"`
	SupportsFolders bool      `csv:"supports_folders"`
	Signature       Signature `csv:"signature"`
	Notes           string    `csv:"notes"`
}

// Card describes the legacy disk geometry a SmartMedia card of a given size
// reports in its partition table.
type Card struct {
	MegaBytes       uint `csv:"megabytes"`
	Cylinders       uint `csv:"cylinders"`
	Heads           uint `csv:"heads"`
	SectorsPerTrack uint `csv:"sectors_per_track"`
}

// TotalSectors returns the number of 512-byte sectors the geometry covers.
func (card Card) TotalSectors() uint {
	return card.Cylinders * card.Heads * card.SectorsPerTrack
}

//go:embed models.csv
var modelsRawCSV string

//go:embed cards.csv
var cardsRawCSV string

var models []Model
var cards []Card

func decodeTable(raw string, out interface{}) error {
	csvReader := csv.NewReader(strings.NewReader(raw))
	csvReader.Comma = '|'
	return gocsv.UnmarshalCSV(csvReader, out)
}

func init() {
	err := decodeTable(modelsRawCSV, &models)
	if err != nil {
		panic(fmt.Errorf("failed to decode model table: %w", err))
	}
	err = decodeTable(cardsRawCSV, &cards)
	if err != nil {
		panic(fmt.Errorf("failed to decode card table: %w", err))
	}

	seen := map[string]bool{}
	for i, model := range models {
		if seen[model.Slug] {
			panic(fmt.Errorf("duplicate definition for model %q found on row %d", model.Slug, i+1))
		}
		seen[model.Slug] = true
	}
}

// GetModel returns the model with the given slug.
func GetModel(slug string) (Model, error) {
	for _, model := range models {
		if model.Slug == slug {
			return model, nil
		}
	}
	return Model{}, fmt.Errorf("no model exists with slug %q", slug)
}

// Models returns every known model.
func Models() []Model {
	return append([]Model(nil), models...)
}

// GetCard returns the geometry of a card of `megabytes`.
func GetCard(megabytes uint) (Card, error) {
	for _, card := range cards {
		if card.MegaBytes == megabytes {
			return card, nil
		}
	}
	return Card{}, fmt.Errorf("no %dMB card is supported", megabytes)
}

// Cards returns every supported card geometry.
func Cards() []Card {
	return append([]Card(nil), cards...)
}
