package directory

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"

	"github.com/dargueta/yepp"
)

// MaxNameLength is the longest long name, in UTF-16 code units.
const MaxNameLength = 255

const (
	aliasBaseSize = 8
	aliasExtSize  = 3
	// Generated aliases keep at most this many characters of the base name,
	// leaving room for a "~N" suffix.
	aliasStemSize = 6
	maxAliasTail  = 9
)

// Characters that can't appear in any name.
const invalidLongChars = "\"*/:<>?\\|"

// Characters that can appear in long names but not short ones.
const invalidShortChars = "+,;=[]. "

// Codec converts names between UTF-8, the UTF-16 of long names, and the OEM
// code page of short names.
type Codec struct {
	oem   *charmap.Charmap
	utf16 encoding.Encoding
}

// NewCodec returns a codec using `oem` for short names. nil selects code page
// 437, which is what the player's firmware displays.
func NewCodec(oem *charmap.Charmap) *Codec {
	if oem == nil {
		oem = charmap.CodePage437
	}
	return &Codec{
		oem:   oem,
		utf16: xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM),
	}
}

// CheckLongName returns an error if `name` can't be stored at all.
func CheckLongName(name string) error {
	if name == "" || name == "." || name == ".." {
		return yepp.ErrDirNameError.WithMessage(fmt.Sprintf("invalid name %q", name))
	}
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(invalidLongChars, r) {
			return yepp.ErrDirNameError.WithMessage(
				fmt.Sprintf("name %q contains invalid character %q", name, r))
		}
	}
	return nil
}

func (codec *Codec) shortByte(r rune) (byte, bool) {
	if r < 0x20 || r == 0x7f ||
		strings.ContainsRune(invalidLongChars, r) ||
		strings.ContainsRune(invalidShortChars, r) {
		return 0, false
	}
	return codec.oem.EncodeRune(r)
}

func splitExtension(name string) (string, string, bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return name, "", false
	}
	return name[:dot], name[dot+1:], true
}

// exactAlias returns the alias for a name that already is a valid upper-case
// 8.3 name, in which case no long name is needed.
func (codec *Codec) exactAlias(name string) (Alias, bool) {
	base, ext, hasDot := splitExtension(name)
	if hasDot && ext == "" {
		return Alias{}, false
	}

	baseRunes := []rune(base)
	extRunes := []rune(ext)
	if len(baseRunes) == 0 || len(baseRunes) > aliasBaseSize || len(extRunes) > aliasExtSize {
		return Alias{}, false
	}

	alias := blankAlias()
	for i, r := range append(baseRunes, extRunes...) {
		if unicode.IsLower(r) {
			return Alias{}, false
		}
		b, ok := codec.shortByte(r)
		if !ok {
			return Alias{}, false
		}
		if i < len(baseRunes) {
			alias[i] = b
		} else {
			alias[aliasBaseSize+i-len(baseRunes)] = b
		}
	}
	return alias, true
}

func blankAlias() Alias {
	var alias Alias
	for i := range alias {
		alias[i] = ' '
	}
	return alias
}

// basisAlias builds the lossy alias of a long name: up to six upper-cased
// characters of the base name and three of the extension. Characters that
// can't be represented become '_'. It also returns the number of base
// characters used.
func (codec *Codec) basisAlias(name string) (Alias, int) {
	name = strings.TrimLeft(name, ". ")
	base, ext, _ := splitExtension(name)

	convert := func(part string, limit int) []byte {
		out := []byte{}
		for _, r := range strings.ToUpper(part) {
			if len(out) == limit {
				break
			}
			if r == ' ' || r == '.' {
				continue
			}
			b, ok := codec.shortByte(r)
			if !ok {
				b = '_'
			}
			out = append(out, b)
		}
		return out
	}

	baseBytes := convert(base, aliasStemSize)
	if len(baseBytes) == 0 {
		baseBytes = []byte{'_'}
	}
	extBytes := convert(ext, aliasExtSize)

	alias := blankAlias()
	copy(alias[:], baseBytes)
	copy(alias[aliasBaseSize:], extBytes)
	return alias, len(baseBytes)
}

// MakeAlias picks the short name for `name`. `taken` reports whether an alias
// is already used in the directory. The returned flag is true if the name
// needs long-name slots.
//
// A name that already is a valid 8.3 name is its own alias. Otherwise the
// lossy basis is used if it's free, and if not, "~1" to "~9" are appended to
// the base until one is. The tail goes right after the base rather than at a
// fixed column, which is where Windows and Linux put it, so a card's aliases
// match what a PC generates for the same names.
func (codec *Codec) MakeAlias(name string, taken func(Alias) bool) (Alias, bool, error) {
	if alias, ok := codec.exactAlias(name); ok {
		if taken(alias) {
			return Alias{}, false, yepp.ErrFileExists.WithMessage(name)
		}
		return alias, false, nil
	}

	basis, stem := codec.basisAlias(name)
	if !taken(basis) {
		return basis, true, nil
	}

	for tail := 1; tail <= maxAliasTail; tail++ {
		alias := basis
		alias[stem] = '~'
		alias[stem+1] = byte('0' + tail)
		if !taken(alias) {
			return alias, true, nil
		}
	}
	return Alias{}, false, yepp.ErrDirNameError.WithMessage(
		fmt.Sprintf("no free short name left for %q", name))
}

// AliasString returns the alias in its usual "NAME.EXT" form.
func (codec *Codec) AliasString(alias Alias) string {
	decode := func(raw []byte) string {
		var builder strings.Builder
		for _, b := range raw {
			builder.WriteRune(codec.oem.DecodeByte(b))
		}
		return strings.TrimRight(builder.String(), " ")
	}

	base := decode(alias[:aliasBaseSize])
	ext := decode(alias[aliasBaseSize:])
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// ParseAlias converts "NAME.EXT" back into an alias. It returns false if the
// string isn't a valid short name.
func (codec *Codec) ParseAlias(name string) (Alias, bool) {
	if name == "." || name == ".." {
		alias := blankAlias()
		copy(alias[:], name)
		return alias, true
	}
	return codec.exactAlias(strings.ToUpper(name))
}

func (codec *Codec) encodeUTF16(name string) ([]byte, error) {
	raw, err := codec.utf16.NewEncoder().Bytes([]byte(name))
	if err != nil {
		return nil, yepp.ErrDirNameError.Wrap(err)
	}
	return raw, nil
}

func (codec *Codec) decodeUTF16(raw []byte) (string, error) {
	decoded, err := codec.utf16.NewDecoder().Bytes(raw)
	if err != nil {
		return "", yepp.ErrFATError.Wrap(err)
	}
	return string(decoded), nil
}
