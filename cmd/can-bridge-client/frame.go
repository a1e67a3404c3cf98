package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-can-bridge/internal/can"
)

var errFrameSyntax = errors.New("frame must look like <hex id>#<hex data>")

// parseFrame parses candump-style "1F334455#1122AABB" notation. Dots in the data
// part are ignored so "123#11.22.33" also works.
func parseFrame(s string) (can.Frame, error) {
	idPart, dataPart, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok || idPart == "" {
		return can.Frame{}, errFrameSyntax
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: id %q: %v", errFrameSyntax, idPart, err)
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataPart, ".", ""))
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: data %q: %v", errFrameSyntax, dataPart, err)
	}
	if len(data) > can.MaxDataLen {
		return can.Frame{}, fmt.Errorf("%w: %d data bytes (max %d)", errFrameSyntax, len(data), can.MaxDataLen)
	}
	return can.NewFrame(uint32(id), data), nil
}

// formatFrame renders fr in the same notation parseFrame accepts.
func formatFrame(fr can.Frame) string {
	return fmt.Sprintf("%08X#%X", fr.CANID, fr.Payload())
}
