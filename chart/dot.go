package chart

import (
	"github.com/happyhackingspace/werger/grammar"
	"github.com/happyhackingspace/werger/lattice"
)

// dotItem is a partially matched rule source side: the trie node reached so
// far, the super nodes matched by its nonterminals, and the lattice path its
// terminals consumed.
type dotItem struct {
	trie   grammar.Trie
	supers []*SuperNode
	path   lattice.Path
}

// dotChart tracks the dot items of one grammar by span.
type dotChart struct {
	g     grammar.Grammar
	cells [][][]*dotItem
}

func newDotChart(g grammar.Grammar, numNodes int) *dotChart {
	d := &dotChart{g: g, cells: make([][][]*dotItem, numNodes)}
	for i := range d.cells {
		d.cells[i] = make([][]*dotItem, numNodes)
		d.cells[i][i] = []*dotItem{{trie: g.Root()}}
	}
	return d
}

func (d *dotChart) items(i, j int) []*dotItem {
	return d.cells[i][j]
}

func (d *dotChart) add(i, j int, it *dotItem) {
	d.cells[i][j] = append(d.cells[i][j], it)
}

// expand fills the dot cell [i,j] by extending the items of every [i,k]:
// with a lattice arc from k to j, or, for k > i, with a super node of the
// completed cell [k,j]. It returns the number of items created.
func (d *dotChart) expand(c *Chart, i, j int) int {
	created := 0
	for k := i; k < j; k++ {
		items := d.items(i, k)
		if len(items) == 0 {
			continue
		}
		for _, arc := range c.sent.Lattice.Arcs(k) {
			if arc.Head != j {
				continue
			}
			for _, it := range items {
				if child := it.trie.Match(arc.Label); child != nil {
					d.add(i, j, &dotItem{trie: child, supers: it.supers, path: it.path.Extend(arc)})
					created++
				}
			}
		}
		if k == i {
			continue
		}
		cell := c.cell(k, j)
		if cell == nil {
			continue
		}
		for _, it := range items {
			if !it.trie.HasExtensions() {
				continue
			}
			for _, sn := range cell.supers {
				if child := it.trie.Match(sn.LHS); child != nil {
					supers := make([]*SuperNode, len(it.supers), len(it.supers)+1)
					copy(supers, it.supers)
					d.add(i, j, &dotItem{trie: child, supers: append(supers, sn), path: it.path})
					created++
				}
			}
		}
	}
	return created
}

// start seeds [i,j] with the root item extended by each super node of the
// just completed cell [i,j].
func (d *dotChart) start(cell *Cell, i, j int) int {
	created := 0
	root := d.g.Root()
	for _, sn := range cell.supers {
		if child := root.Match(sn.LHS); child != nil {
			d.add(i, j, &dotItem{trie: child, supers: []*SuperNode{sn}})
			created++
		}
	}
	return created
}
