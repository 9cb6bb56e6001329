package executor

import (
	"container/heap"

	"github.com/Ning0612/treesync/internal/domain"
)

// graph holds, for every operation, the later operations waiting on it
// and the number of earlier operations it still waits for
type graph struct {
	dependents [][]int
	pending    []int
}

// buildGraph links each operation to the earlier operations on the same
// path, on its ancestors and on its descendants
func buildGraph(ops []domain.Operation) *graph {
	g := &graph{
		dependents: make([][]int, len(ops)),
		pending:    make([]int, len(ops)),
	}

	lastAt := make(map[string]int)
	// earlier operations strictly below a path
	below := make(map[string][]int)

	for i, op := range ops {
		deps := make(map[int]struct{})

		if j, ok := lastAt[op.Path]; ok {
			deps[j] = struct{}{}
		}
		for dir := domain.ParentPath(op.Path); ; dir = domain.ParentPath(dir) {
			if j, ok := lastAt[dir]; ok && dir != op.Path {
				deps[j] = struct{}{}
			}
			if dir == "" {
				break
			}
		}
		for _, j := range below[op.Path] {
			deps[j] = struct{}{}
		}

		for j := range deps {
			g.dependents[j] = append(g.dependents[j], i)
		}
		g.pending[i] = len(deps)

		lastAt[op.Path] = i
		if op.Path != "" {
			for dir := domain.ParentPath(op.Path); ; dir = domain.ParentPath(dir) {
				below[dir] = append(below[dir], i)
				if dir == "" {
					break
				}
			}
		}
	}

	return g
}

// readyQueue is a min-heap of operation indices, so dispatch follows plan order
type readyQueue []int

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(int)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

func (q *readyQueue) push(i int) { heap.Push(q, i) }
func (q *readyQueue) pop() int   { return heap.Pop(q).(int) }
