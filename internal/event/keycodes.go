package event

// US-layout keycode tables. The capture side turns plain key presses into
// characters for text aggregation; the replay side turns characters back
// into keycode+shift pairs when re-typing a text burst.

// Keycodes for the clipboard shortcut letters.
const (
	KeycodeC = 8
	KeycodeX = 7
	KeycodeV = 9
)

type keyEntry struct {
	base    rune
	shifted rune
}

var keycodeTable = map[int]keyEntry{
	0: {'a', 'A'}, 1: {'s', 'S'}, 2: {'d', 'D'}, 3: {'f', 'F'},
	4: {'h', 'H'}, 5: {'g', 'G'}, 6: {'z', 'Z'}, 7: {'x', 'X'},
	8: {'c', 'C'}, 9: {'v', 'V'}, 11: {'b', 'B'}, 12: {'q', 'Q'},
	13: {'w', 'W'}, 14: {'e', 'E'}, 15: {'r', 'R'}, 16: {'y', 'Y'},
	17: {'t', 'T'}, 31: {'o', 'O'}, 32: {'u', 'U'}, 34: {'i', 'I'},
	35: {'p', 'P'}, 37: {'l', 'L'}, 38: {'j', 'J'}, 40: {'k', 'K'},
	45: {'n', 'N'}, 46: {'m', 'M'},

	18: {'1', '!'}, 19: {'2', '@'}, 20: {'3', '#'}, 21: {'4', '$'},
	22: {'6', '^'}, 23: {'5', '%'}, 25: {'9', '('}, 26: {'7', '&'},
	28: {'8', '*'}, 29: {'0', ')'},

	24: {'=', '+'}, 27: {'-', '_'}, 30: {']', '}'}, 33: {'[', '{'},
	39: {'\'', '"'}, 41: {';', ':'}, 42: {'\\', '|'}, 43: {',', '<'},
	44: {'/', '?'}, 47: {'.', '>'}, 50: {'`', '~'},

	36: {'\n', '\n'}, 48: {'\t', '\t'}, 49: {' ', ' '}, 51: {'\b', '\b'},
}

var charTable = buildCharTable()

func buildCharTable() map[rune]struct {
	code  int
	shift bool
} {
	m := make(map[rune]struct {
		code  int
		shift bool
	}, 2*len(keycodeTable))
	for code, e := range keycodeTable {
		if _, ok := m[e.base]; !ok {
			m[e.base] = struct {
				code  int
				shift bool
			}{code, false}
		}
		if e.shifted != e.base {
			if _, ok := m[e.shifted]; !ok {
				m[e.shifted] = struct {
					code  int
					shift bool
				}{code, true}
			}
		}
	}
	return m
}

// KeycodeToChar maps a keycode plus modifier state to the character it
// produces, or false when the key is not a printable/text key.
func KeycodeToChar(keycode int, mods uint8) (rune, bool) {
	e, ok := keycodeTable[keycode]
	if !ok {
		return 0, false
	}
	if HasShift(mods) {
		return e.shifted, true
	}
	return e.base, true
}

// CharToKeycode maps a character back to the keycode and shift state that
// produce it on a US layout.
func CharToKeycode(c rune) (keycode int, shift bool, ok bool) {
	e, found := charTable[c]
	if !found {
		return 0, false, false
	}
	return e.code, e.shift, true
}
