package cache

import "container/list"

// Policy names an eviction strategy.
type Policy string

const (
	// PolicyFIFO evicts the entry inserted earliest. Reads and overwrites do not
	// change its position.
	PolicyFIFO Policy = "fifo"
	// PolicyLRU evicts the entry read or written least recently.
	PolicyLRU Policy = "lru"
)

// evictor tracks key order for the store. All calls happen under the store lock.
type evictor interface {
	touch(key string)
	insert(key string)
	remove(key string)
	victim() (string, bool)
	reset()
}

func newEvictor(p Policy) evictor {
	if p == PolicyLRU {
		return newOrderedEvictor(true)
	}

	return newOrderedEvictor(false)
}

// orderedEvictor keeps keys oldest-first. With moveOnTouch it is an LRU list,
// without it insertion order is preserved.
type orderedEvictor struct {
	order       *list.List
	elements    map[string]*list.Element
	moveOnTouch bool
}

func newOrderedEvictor(moveOnTouch bool) *orderedEvictor {
	return &orderedEvictor{
		order:       list.New(),
		elements:    make(map[string]*list.Element),
		moveOnTouch: moveOnTouch,
	}
}

func (o *orderedEvictor) touch(key string) {
	if !o.moveOnTouch {
		return
	}

	if el, ok := o.elements[key]; ok {
		o.order.MoveToBack(el)
	}
}

func (o *orderedEvictor) insert(key string) {
	if _, ok := o.elements[key]; ok {
		o.touch(key)

		return
	}

	o.elements[key] = o.order.PushBack(key)
}

func (o *orderedEvictor) remove(key string) {
	if el, ok := o.elements[key]; ok {
		o.order.Remove(el)
		delete(o.elements, key)
	}
}

func (o *orderedEvictor) victim() (string, bool) {
	front := o.order.Front()
	if front == nil {
		return "", false
	}

	key, _ := front.Value.(string)
	o.order.Remove(front)
	delete(o.elements, key)

	return key, true
}

func (o *orderedEvictor) reset() {
	o.order.Init()
	o.elements = make(map[string]*list.Element)
}
