package crawler

// entry is one queued URL. Entries are created on discovery and consumed
// once.
type entry struct {
	URL    string
	Depth  int
	Parent string
}

// frontier is a FIFO queue of entries. The same URL may be queued more than
// once; the visited set filters repeats at dequeue time.
type frontier struct {
	items []entry
	head  int
}

func (f *frontier) push(e entry) {
	f.items = append(f.items, e)
}

func (f *frontier) pop() (entry, bool) {
	if f.head >= len(f.items) {
		return entry{}, false
	}
	e := f.items[f.head]
	f.items[f.head] = entry{}
	f.head++
	if f.head > 1024 && f.head*2 >= len(f.items) {
		f.items = append([]entry(nil), f.items[f.head:]...)
		f.head = 0
	}
	return e, true
}

func (f *frontier) len() int {
	return len(f.items) - f.head
}

func (f *frontier) reset() {
	f.items = nil
	f.head = 0
}
