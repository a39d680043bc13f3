package transcriber

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
)

// prepareAudio returns a file name and payload suitable for upload. Raw 16-bit
// PCM segments (.pcm/.raw) are wrapped in a WAV header; everything else is
// passed through untouched.
func prepareAudio(path string, data []byte) (string, []byte) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pcm" || ext == ".raw" {
		return strings.TrimSuffix(name, filepath.Ext(name)) + ".wav", convertToWAV(data)
	}
	return name, data
}

// convertToWAV converts raw 16-bit PCM audio to WAV format
func convertToWAV(rawAudio []byte) []byte {
	var buf bytes.Buffer

	const sampleRate = 16000
	const channels = 1
	const bitsPerSample = 16
	const byteRate = sampleRate * channels * bitsPerSample / 8
	const blockAlign = channels * bitsPerSample / 8

	dataSize := len(rawAudio)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))            // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))             // PCM format
	binary.Write(&buf, binary.LittleEndian, uint16(channels))      // number of channels
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))    // sample rate
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))      // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))    // block align
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(rawAudio)

	return buf.Bytes()
}
