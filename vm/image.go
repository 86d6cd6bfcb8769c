package vm

import (
	"fmt"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images: canonical CBOR with a magic and version header
// ---------------------------------------------------------------------------

const (
	imageMagic   = "GOVM"
	imageVersion = 1
)

// ImageExt is the conventional file extension of program images.
const ImageExt = ".gvmc"

type programImage struct {
	Magic   string   `cbor:"1,keyasint"`
	Version int      `cbor:"2,keyasint"`
	Program *Program `cbor:"3,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a program image. Encoding is deterministic.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(&programImage{
		Magic:   imageMagic,
		Version: imageVersion,
		Program: p,
	})
}

// UnmarshalProgram deserializes and validates a program image.
func UnmarshalProgram(data []byte) (*Program, error) {
	var img programImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal program: %w", err)
	}
	if img.Magic != imageMagic {
		return nil, fmt.Errorf("vm: not a program image (magic %q)", img.Magic)
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d (want %d)", img.Version, imageVersion)
	}
	if img.Program == nil {
		return nil, fmt.Errorf("vm: image has no program")
	}
	if err := img.Program.Validate(); err != nil {
		return nil, err
	}
	return img.Program, nil
}

// WriteProgramFile writes a program image to path.
func WriteProgramFile(path string, p *Program) error {
	data, err := MarshalProgram(p)
	if err != nil {
		return fmt.Errorf("vm: marshal program: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// ReadProgramFile loads a program image from path.
func ReadProgramFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return UnmarshalProgram(data)
}

// Validate checks that every opcode is known, every jump target lies
// inside the program and operands are in range. Stack depth and the shape
// of environments are checked as the program runs.
func (p *Program) Validate() error {
	n := len(p.Instrs)
	if n == 0 {
		return fmt.Errorf("vm: empty program")
	}
	if n > MaxProgramSize {
		return fmt.Errorf("vm: program has %d instructions, limit %d", n, MaxProgramSize)
	}
	for i, in := range p.Instrs {
		if _, ok := in.Op.Info(); !ok {
			return fmt.Errorf("vm: instruction %d: unknown opcode 0x%02X", i, byte(in.Op))
		}
		switch in.Op {
		case OpJumpFalse, OpGoto, OpLoadFunc:
			if in.Addr < 0 || in.Addr >= n {
				return fmt.Errorf("vm: instruction %d: %s target %d out of range", i, in.Op, in.Addr)
			}
		case OpLoad, OpAssign:
			if in.Pos.Frame < 0 || in.Pos.Slot < 0 {
				return fmt.Errorf("vm: instruction %d: %s at negative position %v", i, in.Op, in.Pos)
			}
		case OpChannel, OpMutex:
			if in.Pos.IsBound() && in.Pos.Slot < 0 {
				return fmt.Errorf("vm: instruction %d: %s at negative slot %d", i, in.Op, in.Pos.Slot)
			}
		}
		if in.Op == OpLoadFunc && in.Arity > math.MaxUint8 {
			return fmt.Errorf("vm: instruction %d: LDF arity %d exceeds %d", i, in.Arity, math.MaxUint8)
		}
		if in.Arity < 0 || in.Num < 0 {
			return fmt.Errorf("vm: instruction %d: negative operand", i)
		}
	}
	return nil
}
