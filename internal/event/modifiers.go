package event

// Modifier flags packed into a single byte.
// Bit 0: shift, 1: ctrl, 2: option/alt, 3: command, 4: capslock, 5: fn.
const (
	ModShift uint8 = 1 << 0
	ModCtrl  uint8 = 1 << 1
	ModOpt   uint8 = 1 << 2
	ModCmd   uint8 = 1 << 3
	ModCaps  uint8 = 1 << 4
	ModFn    uint8 = 1 << 5
)

// HasCmd reports whether the command key is held.
func HasCmd(mods uint8) bool { return mods&ModCmd != 0 }

// HasCtrl reports whether the control key is held.
func HasCtrl(mods uint8) bool { return mods&ModCtrl != 0 }

// HasShift reports whether shift or capslock is in effect.
func HasShift(mods uint8) bool { return mods&(ModShift|ModCaps) != 0 }

// CommandLike reports whether any chord-forming modifier (cmd or ctrl)
// is held, i.e. the key press is a shortcut rather than text input.
func CommandLike(mods uint8) bool { return mods&(ModCmd|ModCtrl) != 0 }
