package core

// Iterator walks a chain from the tip back to genesis, one block per call
// to Next.
type Iterator struct {
	current Hash
	bc      *Blockchain
}

// Next returns the next block walking backwards from the tip, or
// (nil, nil) once genesis has been consumed.
func (it *Iterator) Next() (*Block, error) {
	if it.current.IsZero() {
		return nil, nil
	}
	block, err := it.bc.GetBlock(it.current)
	if err != nil {
		return nil, err
	}
	it.current = block.PrevHash
	return block, nil
}
