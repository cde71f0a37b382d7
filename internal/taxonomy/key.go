package taxonomy

import "strconv"

// Key identifies a class either by detector id or by canonical name.
type Key struct {
	byID bool
	id   int
	name string
}

// ByID builds a key from a detector class id.
func ByID(id int) Key { return Key{byID: true, id: id} }

// ByName builds a key from a class name.
func ByName(name string) Key { return Key{name: name} }

// IsID reports whether the key carries a class id.
func (k Key) IsID() bool { return k.byID }

// ID returns the class id; only meaningful when IsID.
func (k Key) ID() int { return k.id }

// Name returns the class name; empty for id keys.
func (k Key) Name() string { return k.name }

func (k Key) String() string {
	if k.byID {
		return "id:" + strconv.Itoa(k.id)
	}
	return "name:" + k.name
}
