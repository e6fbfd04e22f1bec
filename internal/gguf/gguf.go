// Package gguf parses the self-describing metadata header of a GGUF
// model file. No GGUF parser exists anywhere in the retrieval
// pack, so this reads the binary layout directly against the published
// format: magic "GGUF", uint32 version, uint64 tensor_count, uint64
// metadata_kv_count, then that many typed key/value pairs. Tensor
// descriptors that follow the metadata block are never read -- only the
// header is needed for capability/context extraction.
package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const magic = "GGUF"

// valueType enumerates the GGUF metadata value kinds, per the published
// format's ggml_type-adjacent metadata value type table.
type valueType uint32

const (
	typeUint8 valueType = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// Header is the parsed metadata block of a GGUF file. Keys are the raw
// dotted metadata keys (e.g. "llama.context_length", "tokenizer.chat_template").
type Header struct {
	Version      uint32
	TensorCount  uint64
	Architecture string
	Values       map[string]any
}

// Parse reads and parses the GGUF metadata header from path. It stops
// reading as soon as the metadata block is consumed -- tensor data,
// often many gigabytes, is never touched.
func Parse(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gguf: open %s: %w", path, err)
	}
	defer f.Close()
	return ParseReader(bufio.NewReaderSize(f, 64*1024))
}

// ParseReader parses a GGUF metadata header from r.
func ParseReader(r io.Reader) (*Header, error) {
	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, fmt.Errorf("gguf: read magic: %w", err)
	}
	if string(magicBuf[:]) != magic {
		return nil, fmt.Errorf("gguf: bad magic %q, want %q", magicBuf, magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("gguf: read version: %w", err)
	}

	var tensorCount, kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &tensorCount); err != nil {
		return nil, fmt.Errorf("gguf: read tensor_count: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, fmt.Errorf("gguf: read metadata_kv_count: %w", err)
	}

	h := &Header{Version: version, TensorCount: tensorCount, Values: make(map[string]any, kvCount)}
	for i := uint64(0); i < kvCount; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read key %d: %w", i, err)
		}
		val, err := readValue(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read value for %q: %w", key, err)
		}
		h.Values[key] = val
	}
	if arch, ok := h.Values["general.architecture"].(string); ok {
		h.Architecture = arch
	}
	return h, nil
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readValue(r io.Reader) (any, error) {
	var t valueType
	if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
		return nil, err
	}
	return readTyped(r, t)
}

func readTyped(r io.Reader, t valueType) (any, error) {
	switch t {
	case typeUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeFloat32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case typeBool:
		var v uint8
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		return v != 0, nil
	case typeString:
		return readString(r)
	case typeArray:
		var elemType valueType
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			v, err := readTyped(r, elemType)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("gguf: unknown value type %d", t)
	}
}

// ContextLength returns the architecture-specific "<arch>.context_length"
// metadata value, if present, following llama.cpp's key convention.
func (h *Header) ContextLength() (int, bool) {
	return h.uintField(h.Architecture + ".context_length")
}

// ChatTemplate returns the "tokenizer.chat_template" string, if present.
// It is recorded verbatim for display purposes only -- the core never
// applies it.
func (h *Header) ChatTemplate() (string, bool) {
	v, ok := h.Values["tokenizer.chat_template"].(string)
	return v, ok
}

// HasVisionTower reports whether the header carries any clip/vision
// projector metadata, the llama.cpp convention for multimodal GGUFs.
func (h *Header) HasVisionTower() bool {
	for k := range h.Values {
		if strings.HasPrefix(k, "clip.vision.") {
			return true
		}
	}
	return false
}

func (h *Header) uintField(key string) (int, bool) {
	switch v := h.Values[key].(type) {
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	}
	return 0, false
}
