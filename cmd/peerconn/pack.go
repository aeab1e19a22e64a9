package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/creachadair/command"
	"github.com/creachadair/peerconn/packet"
)

var packCommand = &command.C{
	Name:  "pack",
	Usage: "<pattern> <argument>...",
	Help: `Pack arguments into binary data, for crafting frames by hand.

The pattern specifies the sequence of values to concatenate into the output.
Whitespace in the pattern is ignored; otherwise the pattern specifies how the
corresponding argument is processed:

  q  : a quoted literal string (Go style) without framing
  r  : a raw literal string encoded without framing
  s  : a string encoded with a vint30 length prefix
  %  : a Boolean constant (true or false)
  v  : a vint30 value (unsigned)
  1  : a uint8 value (1 byte)
  2  : a uint16 value (2 bytes)
  4  : a uint32 value (4 bytes)

Fixed-width integer values are packed in big-endian order, as in a frame.

In addition, a "(" begins a subpattern, which goes until a matching ")".
Each subpattern is encoded according to its contents, with a length prefix
prepended. By default, the length prefix is a uint32 as used to delimit
frames, but the following symbols modify the length encoding for future
subpatterns:

  @  : encode length as a uint16 (2 bytes)
  $  : encode length as a uint32 (4 bytes; this is the default)
  ?  : encode length as a vint30

Subpatterns may be nested. For example, this pattern packs a direct message
frame for protocol 3 carrying "hello":

  pack '(1 2 1 s)' 4 3 0 hello`,
	Run: func(env *command.Env) error {
		if len(env.Args) == 0 {
			return env.Usagef("Missing format argument")
		}
		enc, rest, err := formatData(env.Args[0], env.Args[1:])
		if err != nil {
			return err
		} else if len(rest) != 0 {
			return fmt.Errorf("extra arguments: %q", rest)
		}
		_, err = os.Stdout.Write(enc)
		return err
	},
}

func formatData(pat string, args []string) ([]byte, []string, error) {
	size := byte('$')
	var b packet.Builder
	packSize := func(n int) {
		switch size {
		case '?':
			b.Vint30(uint32(n))
		case '@':
			b.Uint16(uint16(n))
		case '$':
			b.Uint32(uint32(n))
		default:
			panic("invalid size type: " + string(size))
		}
	}
	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case 'q', 'r', 's', '%', 'v', '1', '2', '4':
			// OK, these need an argument (see below)
		case ' ', '\t', '\n':
			// Skip whitespace.
			continue
		case '@', '$', '?':
			// Set sub-pattern size encoding.
			size = c
			continue
		case '(':
			// Sub-pattern (sub) becomes length-prefixed data.
			sub, ok := cutParen(pat[i+1:], '(', ')')
			if !ok {
				return nil, nil, errors.New("missing close parenthesis")
			}
			sd, sa, err := formatData(sub, args)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid subpattern: %w", err)
			}
			packSize(len(sd))
			b.Put(sd)
			args = sa
			i += len(sub) + 1
			continue
		default:
			return nil, nil, fmt.Errorf("invalid pattern word %c", c)
		}

		if len(args) == 0 {
			return nil, nil, fmt.Errorf("missing argument for %c", c)
		}
		switch c {
		case 'q':
			dec, err := strconv.Unquote(`"` + args[0] + `"`)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid string: %w", err)
			}
			b.Put([]byte(dec))
		case 'r':
			b.Put([]byte(args[0]))
		case 's':
			b.VPutString(args[0])
		case '%':
			v, err := strconv.ParseBool(args[0])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid bool: %w", err)
			}
			b.Bool(v)
		case 'v':
			v, err := strconv.ParseUint(args[0], 10, 30)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid vint30: %w", err)
			}
			b.Vint30(uint32(v))
		case '1':
			v, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid byte: %w", err)
			}
			b.Byte(byte(v))
		case '2':
			v, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint16: %w", err)
			}
			b.Uint16(uint16(v))
		case '4':
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint32: %w", err)
			}
			b.Uint32(uint32(v))
		default:
			panic("invalid code: " + string(c))
		}
		args = args[1:]
	}
	return b.Bytes(), args, nil
}

func cutParen(s string, l, r rune) (string, bool) {
	d := 1
	for i, c := range s {
		if c == l {
			d++
		} else if c == r {
			d--
			if d == 0 {
				return s[:i], true
			}
		}
	}
	return s, false
}
