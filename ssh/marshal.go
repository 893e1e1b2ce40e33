// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"reflect"
)

var errShortRead = errors.New("ssh: short read")

// Marshal serializes a struct decorated with an `sshtype:"N"` tag on its
// first field into its RFC 4251 wire representation, prefixed by the
// message-number byte N.
func Marshal(msg interface{}) []byte {
	out := make([]byte, 0, 64)
	return marshalStruct(out, reflect.ValueOf(msg))
}

func marshalStruct(out []byte, v reflect.Value) []byte {
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()
	if n, ok := messageTypes[t]; ok {
		out = append(out, n)
	}
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("ssh")
		out = marshalField(out, field, tag)
	}
	return out
}

func marshalField(out []byte, field reflect.Value, tag string) []byte {
	switch field.Kind() {
	case reflect.Bool:
		out = appendBool(out, field.Bool())
	case reflect.Uint32:
		out = appendU32(out, uint32(field.Uint()))
	case reflect.Uint64:
		out = append(out, make([]byte, 8)...)
		binary.BigEndian.PutUint64(out[len(out)-8:], field.Uint())
	case reflect.String:
		out = appendString(out, field.String())
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.Uint8:
			b := field.Bytes()
			if tag == "rest" {
				out = append(out, b...)
			} else {
				out = appendU32(out, uint32(len(b)))
				out = append(out, b...)
			}
		case reflect.String:
			var buf []byte
			list := field.Interface().([]string)
			for i, s := range list {
				if i > 0 {
					buf = append(buf, ',')
				}
				buf = append(buf, s...)
			}
			out = appendU32(out, uint32(len(buf)))
			out = append(out, buf...)
		default:
			panic("ssh: unsupported slice element type " + field.Type().String())
		}
	case reflect.Array:
		// fixed-size byte array, e.g. the KEXINIT cookie.
		for i := 0; i < field.Len(); i++ {
			out = append(out, byte(field.Index(i).Uint()))
		}
	case reflect.Ptr:
		if bi, ok := field.Interface().(*big.Int); ok {
			out = marshalMPInt(out, bi)
		} else {
			panic("ssh: unsupported pointer type " + field.Type().String())
		}
	default:
		panic("ssh: unsupported field kind " + field.Kind().String())
	}
	return out
}

func marshalMPInt(out []byte, n *big.Int) []byte {
	if n.Sign() == 0 {
		return appendU32(out, 0)
	}
	bytes := n.Bytes()
	pad := bytes[0]&0x80 != 0
	length := len(bytes)
	if pad {
		length++
	}
	out = appendU32(out, uint32(length))
	if pad {
		out = append(out, 0)
	}
	return append(out, bytes...)
}

func intLength(n *big.Int) int {
	length := len(n.Bytes())
	if length > 0 && n.Bytes()[0]&0x80 != 0 {
		length++
	}
	return length + 4
}

func marshalInt(to []byte, n *big.Int) []byte {
	r := marshalMPInt(nil, n)
	copy(to, r)
	return to[len(r):]
}

// Unmarshal parses the RFC 4251 wire representation of packet into msg, a
// pointer to a struct. For a struct registered in messageTypes, packet
// must start with the matching message-number byte, which is skipped; any
// other struct (a request payload) is parsed from the first byte.
func Unmarshal(packet []byte, msg interface{}) error {
	v := reflect.ValueOf(msg).Elem()
	t := v.Type()
	if want, ok := messageTypes[t]; ok {
		if len(packet) == 0 {
			return parseError(0)
		}
		if packet[0] != want {
			return unexpectedMessageError(want, packet[0])
		}
		packet = packet[1:]
	}
	rest := packet
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("ssh")
		var err error
		rest, err = unmarshalField(rest, field, tag)
		if err != nil {
			return err
		}
	}
	return nil
}

func unmarshalField(data []byte, field reflect.Value, tag string) ([]byte, error) {
	switch field.Kind() {
	case reflect.Bool:
		if len(data) < 1 {
			return nil, errShortRead
		}
		field.SetBool(data[0] != 0)
		return data[1:], nil
	case reflect.Uint32:
		if len(data) < 4 {
			return nil, errShortRead
		}
		field.SetUint(uint64(binary.BigEndian.Uint32(data)))
		return data[4:], nil
	case reflect.Uint64:
		if len(data) < 8 {
			return nil, errShortRead
		}
		field.SetUint(binary.BigEndian.Uint64(data))
		return data[8:], nil
	case reflect.String:
		s, rest, ok := parseString(data)
		if !ok {
			return nil, errShortRead
		}
		field.SetString(string(s))
		return rest, nil
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.Uint8:
			if tag == "rest" {
				field.SetBytes(append([]byte{}, data...))
				return nil, nil
			}
			s, rest, ok := parseString(data)
			if !ok {
				return nil, errShortRead
			}
			field.SetBytes(append([]byte{}, s...))
			return rest, nil
		case reflect.String:
			list, rest, ok := parseNameList(data)
			if !ok {
				return nil, errShortRead
			}
			field.Set(reflect.ValueOf(list))
			return rest, nil
		default:
			return nil, errors.New("ssh: unsupported slice element type")
		}
	case reflect.Array:
		n := field.Len()
		if len(data) < n {
			return nil, errShortRead
		}
		for i := 0; i < n; i++ {
			field.Index(i).SetUint(uint64(data[i]))
		}
		return data[n:], nil
	case reflect.Ptr:
		if field.Type() == reflect.TypeOf((*big.Int)(nil)) {
			bi, rest, ok := parseMPInt(data)
			if !ok {
				return nil, errShortRead
			}
			field.Set(reflect.ValueOf(bi))
			return rest, nil
		}
		return nil, errors.New("ssh: unsupported pointer type")
	}
	return nil, errors.New("ssh: unsupported field kind " + field.Kind().String())
}

func parseString(in []byte) (out, rest []byte, ok bool) {
	if len(in) < 4 {
		return
	}
	length := binary.BigEndian.Uint32(in)
	if uint32(len(in)) < 4+length {
		return
	}
	out = in[4 : 4+length]
	rest = in[4+length:]
	ok = true
	return
}

func parseNameList(in []byte) (out []string, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return
	}
	if len(contents) == 0 {
		return []string{}, rest, true
	}
	start := 0
	for i, c := range contents {
		if c == ',' {
			out = append(out, string(contents[start:i]))
			start = i + 1
		}
	}
	out = append(out, string(contents[start:]))
	return out, rest, true
}

func parseMPInt(in []byte) (out *big.Int, rest []byte, ok bool) {
	contents, rest, ok := parseString(in)
	if !ok {
		return
	}
	out = new(big.Int)
	if len(contents) > 0 && contents[0]&0x80 != 0 {
		// Would be interpreted as a negative number per RFC 4251 5; no
		// SSH field we parse with this function is legitimately negative.
		return nil, nil, false
	}
	out.SetBytes(contents)
	return out, rest, true
}

func marshalString(to []byte, s []byte) []byte {
	binary.BigEndian.PutUint32(to, uint32(len(s)))
	to = to[4:]
	copy(to, s)
	return to[len(s):]
}

func stringLength(n int) int { return 4 + n }

// writeString and writeInt append RFC 4251 encodings to a running hash,
// used while computing the KEX exchange hash H.
func writeString(w io.Writer, s []byte) {
	var lengthBytes [4]byte
	binary.BigEndian.PutUint32(lengthBytes[:], uint32(len(s)))
	w.Write(lengthBytes[:])
	w.Write(s)
}

func writeInt(w io.Writer, n *big.Int) {
	w.Write(marshalMPInt(nil, n))
}

func writeBigInt(w io.Writer, n *big.Int) { writeInt(w, n) }
