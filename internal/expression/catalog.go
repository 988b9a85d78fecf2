package expression

// Catalog is the ordered list of configured expressions.
//
// Storage order matters: the selector breaks threshold ties in favor of the
// later entry. A Catalog is not safe for concurrent use; the daemon goroutine
// owns it and only mutates it between ticks. Read methods accept a nil
// receiver and treat it as an empty catalog.
type Catalog struct {
	items []Expression
	index map[ID]int
}

// NewCatalog builds a catalog from exprs in order. A repeated id replaces the
// earlier entry in place.
func NewCatalog(exprs ...Expression) *Catalog {
	c := &Catalog{
		items: make([]Expression, 0, len(exprs)),
		index: make(map[ID]int, len(exprs)),
	}
	for _, e := range exprs {
		c.Upsert(e)
	}
	return c
}

// Len returns the number of expressions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Expressions returns a copy of the catalog in storage order.
func (c *Catalog) Expressions() []Expression {
	if c == nil {
		return nil
	}
	out := make([]Expression, len(c.items))
	for i, e := range c.items {
		out[i] = e.clone()
	}
	return out
}

// Lookup returns the expression with the given id.
func (c *Catalog) Lookup(id ID) (Expression, bool) {
	if c == nil || id == "" {
		return Expression{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return Expression{}, false
	}
	return c.items[i].clone(), true
}

// Contains reports whether id is a member of the catalog.
func (c *Catalog) Contains(id ID) bool {
	if c == nil || id == "" {
		return false
	}
	_, ok := c.index[id]
	return ok
}

// Select runs the threshold selector over the catalog without copying it.
func (c *Catalog) Select(level float64) (Expression, bool) {
	if c == nil {
		return Expression{}, false
	}
	return Select(level, c.items)
}

// Upsert edits the expression with e.ID in place, or appends e when the id is
// new. An empty id is replaced with a generated one. It reports whether e was
// appended.
func (c *Catalog) Upsert(e Expression) bool {
	if c.index == nil {
		c.index = make(map[ID]int)
	}
	if e.ID == "" {
		e.ID = NewID()
	}
	e = e.clone()
	if i, ok := c.index[e.ID]; ok {
		c.items[i] = e
		return false
	}
	c.index[e.ID] = len(c.items)
	c.items = append(c.items, e)
	return true
}

// Remove deletes the expression with the given id. It reports whether
// anything was removed.
func (c *Catalog) Remove(id ID) bool {
	if c == nil {
		return false
	}
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.reindex()
	return true
}

// Move relocates the expression with the given id to position index, clamped
// to the catalog bounds.
func (c *Catalog) Move(id ID, index int) bool {
	if c == nil {
		return false
	}
	from, ok := c.index[id]
	if !ok {
		return false
	}
	if index < 0 {
		index = 0
	}
	if index >= len(c.items) {
		index = len(c.items) - 1
	}
	if from == index {
		return true
	}

	e := c.items[from]
	c.items = append(c.items[:from], c.items[from+1:]...)
	c.items = append(c.items[:index], append([]Expression{e}, c.items[index:]...)...)
	c.reindex()
	return true
}

func (c *Catalog) reindex() {
	c.index = make(map[ID]int, len(c.items))
	for i, e := range c.items {
		c.index[e.ID] = i
	}
}
