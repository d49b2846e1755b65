package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-directnet/directnet"
)

var areaNames = map[string]directnet.Command{
	"vmem":       directnet.OpReadVMem,
	"v":          directnet.OpReadVMem,
	"inputs":     directnet.OpReadInputs,
	"x":          directnet.OpReadInputs,
	"outputs":    directnet.OpReadOutputs,
	"y":          directnet.OpReadOutputs,
	"scratchpad": directnet.OpReadScratchpad,
	"program":    directnet.OpReadProgram,
	"status":     directnet.OpReadStatus,
}

// parseArea accepts an area name or a numeric operation code.
func parseArea(s string) (directnet.Command, error) {
	if cmd, ok := areaNames[strings.ToLower(s)]; ok {
		return cmd, nil
	}

	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown area %q", s)
	}

	return directnet.Command(v) &^ directnet.WriteFlag, nil
}

// parseAddress accepts decimal, 0x-prefixed hex and 0o-prefixed octal addresses.
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}

	return uint16(v), nil
}

func parseLength(s string) (int, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid length %q: want 1..%d", s, directnet.MaxTransferSize)
	}

	return int(v), nil
}

// parseData decodes hex bytes; spaces, colons and an optional 0x prefix are ignored.
func parseData(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)

	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data")
	}

	return data, nil
}

// parseSlaves parses a comma separated list of slave ids; an empty list means all.
func parseSlaves(s string) ([]uint8, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]uint8, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < directnet.MinSlaveID || v > directnet.MaxSlaveID {
			return nil, fmt.Errorf("invalid slave id %q", p)
		}
		ids = append(ids, uint8(v))
	}

	return ids, nil
}
