package sigsafe

// GoroutineBlock returns the part of a runtime.Stack(buf, true) dump that belongs to the goroutine
// with the given id, or nil if it isn't present. The result aliases dump.
//
// Each goroutine in the dump starts with a line "goroutine <id> [<status>]:" and blocks are
// separated by a blank line.
func GoroutineBlock(dump []byte, id uint64) []byte {
	var idBuf [20]byte
	idText := FormatUint(&idBuf, id)

	start := 0
	for start < len(dump) {
		end := blockEnd(dump, start)
		if isHeaderFor(dump[start:end], idText) {
			return dump[start:end]
		}
		start = end
		// skip the blank separator
		for start < len(dump) && dump[start] == '\n' {
			start += 1
		}
	}
	return nil
}

// blockEnd returns the index just past the block starting at start: the position of the first
// "\n\n" (inclusive of the first newline), or len(dump).
func blockEnd(dump []byte, start int) int {
	for i := start; i+1 < len(dump); i += 1 {
		if dump[i] == '\n' && dump[i+1] == '\n' {
			return i + 1
		}
	}
	return len(dump)
}

func isHeaderFor(block []byte, idText []byte) bool {
	const prefix = "goroutine "
	if len(block) < len(prefix)+len(idText)+1 {
		return false
	}
	if string(block[:len(prefix)]) != prefix {
		return false
	}
	rest := block[len(prefix):]
	for i := range idText {
		if rest[i] != idText[i] {
			return false
		}
	}
	return rest[len(idText)] == ' '
}
