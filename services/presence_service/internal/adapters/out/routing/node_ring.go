package routing

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"

	"github.com/EthanQC/canvas-collab/services/presence_service/internal/ports/out"
)

const defaultReplicas = 150

// NodeRing 画布到节点的一致性哈希环
type NodeRing struct {
	replicas int
	nodes    map[string]struct{}
	keys     []uint32          // 已排序的虚拟节点哈希
	owners   map[uint32]string // 虚拟节点哈希 -> 节点
	mu       sync.RWMutex
}

var _ out.NodeRouter = (*NodeRing)(nil)

func NewNodeRing(replicas int, nodes ...string) *NodeRing {
	if replicas <= 0 {
		replicas = defaultReplicas
	}
	r := &NodeRing{replicas: replicas}
	r.SetNodes(nodes)
	return r
}

func hashKey(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

// SetNodes 整体替换成员，配置热更新时使用
func (r *NodeRing) SetNodes(nodes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n != "" {
			r.nodes[n] = struct{}{}
		}
	}
	r.rebuild()
}

// AddNode 重复添加无副作用
func (r *NodeRing) AddNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; ok || node == "" {
		return
	}
	r.nodes[node] = struct{}{}
	r.rebuild()
}

func (r *NodeRing) RemoveNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; !ok {
		return
	}
	delete(r.nodes, node)
	r.rebuild()
}

// rebuild 按节点名排序后生成虚拟节点，哈希冲突时结果与添加顺序无关
func (r *NodeRing) rebuild() {
	names := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		names = append(names, n)
	}
	sort.Strings(names)

	r.owners = make(map[uint32]string, len(names)*r.replicas)
	r.keys = r.keys[:0]
	for _, n := range names {
		for i := 0; i < r.replicas; i++ {
			h := hashKey(n + "#" + strconv.Itoa(i))
			if _, taken := r.owners[h]; taken {
				continue
			}
			r.owners[h] = n
			r.keys = append(r.keys, h)
		}
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i] < r.keys[j] })
}

// GetNode 环为空时返回空串
func (r *NodeRing) GetNode(canvasID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.keys) == 0 {
		return ""
	}
	h := hashKey(canvasID)
	idx := sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= h })
	if idx >= len(r.keys) {
		idx = 0
	}
	return r.owners[r.keys[idx]]
}

func (r *NodeRing) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nodes := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
