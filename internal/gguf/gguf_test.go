package gguf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildFile assembles a minimal in-memory GGUF byte stream with the
// given metadata key/value string pairs, all encoded as typeString.
func buildFile(t *testing.T, kv map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint64(0)) // tensor_count
	binary.Write(&buf, binary.LittleEndian, uint64(len(kv)))
	for k, v := range kv {
		writeString(&buf, k)
		binary.Write(&buf, binary.LittleEndian, typeString)
		writeString(&buf, v)
	}
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

func TestParseReader_ArchitectureAndChatTemplate(t *testing.T) {
	data := buildFile(t, map[string]string{
		"general.architecture":    "llama",
		"tokenizer.chat_template": "{{ messages }}",
	})

	h, err := ParseReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if h.Architecture != "llama" {
		t.Errorf("Architecture = %q, want llama", h.Architecture)
	}
	tmpl, ok := h.ChatTemplate()
	if !ok || tmpl != "{{ messages }}" {
		t.Errorf("ChatTemplate() = (%q, %v), want ({{ messages }}, true)", tmpl, ok)
	}
}

func TestParseReader_BadMagic(t *testing.T) {
	_, err := ParseReader(bytes.NewReader([]byte("NOPE1234")))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseReader_ContextLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(2))

	writeString(&buf, "general.architecture")
	binary.Write(&buf, binary.LittleEndian, typeString)
	writeString(&buf, "llama")

	writeString(&buf, "llama.context_length")
	binary.Write(&buf, binary.LittleEndian, typeUint32)
	binary.Write(&buf, binary.LittleEndian, uint32(4096))

	h, err := ParseReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	n, ok := h.ContextLength()
	if !ok || n != 4096 {
		t.Errorf("ContextLength() = (%d, %v), want (4096, true)", n, ok)
	}
}

func TestParseReader_VisionTower(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint64(1))
	writeString(&buf, "clip.vision.image_size")
	binary.Write(&buf, binary.LittleEndian, typeUint32)
	binary.Write(&buf, binary.LittleEndian, uint32(336))

	h, err := ParseReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseReader: %v", err)
	}
	if !h.HasVisionTower() {
		t.Error("HasVisionTower() = false, want true")
	}
}
