package descset

// stateStreamBlockSize is the growth granule of a StateStream.
const stateStreamBlockSize = 4096

// State is one suballocation out of a StateStream: host bytes plus the
// GPU address of the same range.
type State struct {
	Data    []byte
	Address uint64
}

func (s State) valid() bool { return s.Data != nil }

type stateBlock struct {
	region *Region
	used   uint64
}

// StateStream is a grow-only arena of descriptor state memory. Push
// descriptor sets live here instead of in a pool: the caller owning the
// command stream owns the arena and resets it when the commands retire.
//
// Not safe for concurrent use.
type StateStream struct {
	backing Backing
	label   string
	blocks  []stateBlock
}

// NewStateStream returns an empty arena drawing from backing.
func NewStateStream(backing Backing, label string) *StateStream {
	return &StateStream{backing: backing, label: label}
}

// Alloc carves size bytes at the given alignment, growing the arena by
// whole blocks as needed. The returned bytes are zeroed.
func (s *StateStream) Alloc(size, alignment uint64) (State, error) {
	if size == 0 {
		return State{}, nil
	}
	if n := len(s.blocks); n > 0 {
		b := &s.blocks[n-1]
		off := align(b.used, alignment)
		if off+size <= uint64(len(b.region.Bytes)) {
			b.used = off + size
			return State{
				Data:    b.region.Bytes[off : off+size : off+size],
				Address: b.region.Address + off,
			}, nil
		}
	}
	blockSize := uint64(stateStreamBlockSize)
	if size > blockSize {
		blockSize = align(size, stateStreamBlockSize)
	}
	region, err := s.backing.Alloc(blockSize, RegionSurfaces, s.label)
	if err != nil {
		return State{}, err
	}
	s.blocks = append(s.blocks, stateBlock{region: region, used: size})
	return State{
		Data:    region.Bytes[:size:size],
		Address: region.Address,
	}, nil
}

// flush marks every block dirty for upload.
func (s *StateStream) flush() {
	for i := range s.blocks {
		s.blocks[i].region.markDirty()
	}
}

// Reset releases every block. Outstanding State values become invalid;
// callers must not reset while the GPU can still read the arena.
func (s *StateStream) Reset() error {
	for i := range s.blocks {
		if err := s.backing.Free(s.blocks[i].region); err != nil {
			return err
		}
	}
	s.blocks = s.blocks[:0]
	return nil
}
