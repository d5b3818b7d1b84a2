package rvemu

// DefaultPageSize is the page granularity recommended by the component
// design: 4 KiB, matching the host page size on every platform this
// module targets.
const DefaultPageSize = 4096

// PageAttr is the {read, write, exec} tuple enforced on every load,
// store and fetch. The zero value denies all access.
type PageAttr struct {
	Read, Write, Exec bool
}

// RWAttr is the default attribute for heap and mmap-anonymous pages.
var RWAttr = PageAttr{Read: true, Write: true}

// RXAttr is the default attribute for code pages.
var RXAttr = PageAttr{Read: true, Exec: true}

// pageData is the physical backing store for a page. It is reference
// counted so a page can be shared copy-on-write between two mappedPage
// entries (within one Memory, or — via Memory.Share — across two
// Memory instances simulating a fork).
type pageData struct {
	bytes    []byte
	refCount int32
}

func newPageData(size int) *pageData {
	return &pageData{bytes: make([]byte, size), refCount: 1}
}

func (p *pageData) clone() *pageData {
	b := make([]byte, len(p.bytes))
	copy(b, p.bytes)
	return &pageData{bytes: b, refCount: 1}
}

// mappedPage is one page-table entry: a (possibly shared) backing
// store plus the attributes enforced for this mapping.
type mappedPage struct {
	data *pageData
	attr PageAttr
}
