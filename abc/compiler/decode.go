package compiler

import "github.com/jfd16/mariana-go/abc/opcode"

// Decode splits the method body bytes into instructions with typed
// immediates. Undefined opcodes are tolerated here (they may be unreachable
// padding) and kept as flagged zero-operand instructions; the flow
// assembler rejects them if they turn out reachable.
func (c *MethodCompilation) Decode() error {
	code := c.method.Code
	if len(code) == 0 {
		return errAt(ErrInvalidCodeLength, -1, "empty method body")
	}

	pos := 0
	for pos < len(code) {
		off := pos
		op := opcode.Opcode(code[pos])
		pos++

		ins := Instruction{
			Op:        op,
			Offset:    int32(off),
			Block:     -1,
			Target:    -1,
			Push:      -1,
			WriteNode: -1,
			Resolved:  -1,
		}
		id := int32(len(c.instrs))

		info := opcode.InfoOf(op)
		switch info.Imm {
		case opcode.ImmInvalid:
			ins.Flags |= InstrInvalid

		case opcode.ImmNone:

		case opcode.ImmByte:
			if pos >= len(code) {
				return errAt(ErrCodeFalloff, id, "byte immediate past end of code")
			}
			ins.ImmA = int32(code[pos])
			pos++

		case opcode.ImmU30:
			v, err := readU30(code, &pos, id)
			if err != nil {
				return err
			}
			ins.ImmA = int32(v)

		case opcode.ImmU30U30:
			a, err := readU30(code, &pos, id)
			if err != nil {
				return err
			}
			b, err := readU30(code, &pos, id)
			if err != nil {
				return err
			}
			ins.ImmA, ins.ImmB = int32(a), int32(b)

		case opcode.ImmS24:
			v, err := readS24(code, &pos, id)
			if err != nil {
				return err
			}
			ins.ImmA = v

		case opcode.ImmDebug:
			// kind byte, name index, register byte, extra
			if pos >= len(code) {
				return errAt(ErrCodeFalloff, id, "debug immediate past end of code")
			}
			pos++
			name, err := readU30(code, &pos, id)
			if err != nil {
				return err
			}
			if pos >= len(code) {
				return errAt(ErrCodeFalloff, id, "debug immediate past end of code")
			}
			reg := int32(code[pos])
			pos++
			if _, err := readU30(code, &pos, id); err != nil {
				return err
			}
			ins.ImmA, ins.ImmB = int32(name), reg

		case opcode.ImmSwitch:
			def, err := readS24(code, &pos, id)
			if err != nil {
				return err
			}
			count, err := readU30(code, &pos, id)
			if err != nil {
				return err
			}
			// count case offsets follow the default offset.
			if uint64(count)*3 > uint64(len(code)-pos) {
				return errAt(ErrCodeFalloff, id, "switch case table past end of code")
			}
			targets := make([]int32, 0, count+1)
			targets = append(targets, def)
			for j := uint32(0); j < count; j++ {
				v, err := readS24(code, &pos, id)
				if err != nil {
					return err
				}
				targets = append(targets, v)
			}
			ins.Cases = c.staticInts.Alloc(targets...)
		}

		normalize(&ins)
		c.instrs = append(c.instrs, ins)
	}
	return nil
}

// readU30 reads a variable-length u30: little-endian 7 bits per byte with a
// continuation bit, over at most 5 bytes, and at most 30 significant bits.
func readU30(code []byte, pos *int, instr int32) (uint32, error) {
	var v uint32
	shift := uint(0)
	for i := 0; i < 5; i++ {
		if *pos >= len(code) {
			return 0, errAt(ErrCodeFalloff, instr, "u30 immediate past end of code")
		}
		b := code[*pos]
		*pos++
		v |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			if v >= 1<<30 {
				return 0, errAt(ErrIllegalU30, instr, "u30 value %d exceeds 30 bits", v)
			}
			return v, nil
		}
		shift += 7
	}
	return 0, errAt(ErrIllegalU30, instr, "u30 continuation past 5 bytes")
}

// readS24 reads a 24-bit little-endian two's-complement value.
func readS24(code []byte, pos *int, instr int32) (int32, error) {
	if *pos+3 > len(code) {
		return 0, errAt(ErrCodeFalloff, instr, "s24 immediate past end of code")
	}
	v := int32(code[*pos]) | int32(code[*pos+1])<<8 | int32(code[*pos+2])<<16
	*pos += 3
	if v&0x800000 != 0 {
		v -= 1 << 24
	}
	return v, nil
}

// nanDoubleIndex is the pseudo constant-pool index the normalized pushnan
// uses: the generator treats it as an inline NaN.
const nanDoubleIndex = -1

// normalize folds opcode aliases onto their canonical forms so later
// passes see a single representation per operation.
func normalize(ins *Instruction) {
	switch ins.Op {
	case opcode.GETLOCAL0, opcode.GETLOCAL1, opcode.GETLOCAL2, opcode.GETLOCAL3:
		ins.ImmA = int32(ins.Op - opcode.GETLOCAL0)
		ins.Op = opcode.GETLOCAL
	case opcode.SETLOCAL0, opcode.SETLOCAL1, opcode.SETLOCAL2, opcode.SETLOCAL3:
		ins.ImmA = int32(ins.Op - opcode.SETLOCAL0)
		ins.Op = opcode.SETLOCAL
	case opcode.PUSHNAN:
		ins.Op = opcode.PUSHDOUBLE
		ins.ImmA = nanDoubleIndex
	case opcode.PUSHBYTE:
		ins.ImmA = int32(int8(ins.ImmA))
	case opcode.COERCE_I:
		ins.Op = opcode.CONVERT_I
	case opcode.COERCE_U:
		ins.Op = opcode.CONVERT_U
	case opcode.COERCE_D:
		ins.Op = opcode.CONVERT_D
	case opcode.COERCE_B:
		ins.Op = opcode.CONVERT_B
		// COERCE_S is NOT folded onto CONVERT_S: coerce_s passes null and
		// undefined through, convert_s turns them into "null"/"undefined".
	}
}
