package xlsx

// Dynamic strings (inline strings, formula-result strings, error literals,
// and coerced text) are interned at parse time into per-worker append-only
// arenas. The encoded index carried in a cell payload identifies the
// producing worker in its top 8 bits and the arena slot below; arenas must
// outlive the row stream that references them.

const (
	dynamicWorkerShift = 56
	dynamicIndexMask   = (uint64(1) << dynamicWorkerShift) - 1
)

func encodeDynamic(workerID int, idx uint64) uint64 {
	return uint64(workerID)<<dynamicWorkerShift | (idx & dynamicIndexMask)
}

func decodeDynamic(encoded uint64) (int, uint64) {
	return int(encoded >> dynamicWorkerShift), encoded & dynamicIndexMask
}

// prepareDynamicStrings sizes one arena per worker. Existing arenas are
// kept so indices from a previously parsed sheet stay valid.
func (f *File) prepareDynamicStrings(numWorkers int) {
	for len(f.dynamic) < numWorkers {
		f.dynamic = append(f.dynamic, nil)
	}
}

// addDynamicString interns str into workerID's arena and returns the
// encoded index. Only the owning worker appends to its arena.
func (f *File) addDynamicString(workerID int, str string) uint64 {
	idx := uint64(len(f.dynamic[workerID]))
	f.dynamic[workerID] = append(f.dynamic[workerID], str)
	return encodeDynamic(workerID, idx)
}

// GetDynamicString resolves an encoded dynamic-string index as carried in a
// CellString, CellStringInline or CellError payload.
func (f *File) GetDynamicString(encoded uint64) string {
	workerID, idx := decodeDynamic(encoded)
	return f.GetDynamicStringAt(workerID, idx)
}

// GetDynamicStringAt resolves a dynamic string by worker id and arena index.
func (f *File) GetDynamicStringAt(workerID int, idx uint64) string {
	if workerID < 0 || workerID >= len(f.dynamic) {
		return ""
	}
	arena := f.dynamic[workerID]
	if idx >= uint64(len(arena)) {
		return ""
	}
	return arena[idx]
}
