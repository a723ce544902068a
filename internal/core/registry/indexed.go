package registry

// Indexed はキーと値の対応を保持し、登録済みキーを密な配列として列挙できるマップです。
//
// 追加・更新・削除・参照はいずれも O(1) です。削除は末尾のキーを空いた位置へ移動する
// swap-remove で行うため、削除後の列挙順は挿入順と一致しません。安定した順序が必要な
// 呼び出し側は単調増加する ID などで別途管理してください。
//
// ゼロ値は使用できません。New で生成してください。並行アクセスには対応しません。
type Indexed[K comparable, V any] struct {
	keys    []K
	entries map[K]slot[V]
}

type slot[V any] struct {
	index int
	value V
}

// New は空の Indexed を生成します。
func New[K comparable, V any]() *Indexed[K, V] {
	return &Indexed[K, V]{entries: make(map[K]slot[V])}
}

// Set は key に value を割り当てます。既存のキーは列挙位置を保ったまま値のみ上書きします。
func (m *Indexed[K, V]) Set(key K, value V) {
	if s, ok := m.entries[key]; ok {
		s.value = value
		m.entries[key] = s
		return
	}
	m.entries[key] = slot[V]{index: len(m.keys), value: value}
	m.keys = append(m.keys, key)
}

// Remove は key を削除します。存在しないキーの削除は何もせず false を返します。
func (m *Indexed[K, V]) Remove(key K) bool {
	s, ok := m.entries[key]
	if !ok {
		return false
	}

	last := len(m.keys) - 1
	if s.index != last {
		moved := m.keys[last]
		m.keys[s.index] = moved
		ms := m.entries[moved]
		ms.index = s.index
		m.entries[moved] = ms
	}

	var zero K
	m.keys[last] = zero
	m.keys = m.keys[:last]
	delete(m.entries, key)
	return true
}

// Get は key に対応する値と存在有無を返します。
func (m *Indexed[K, V]) Get(key K) (V, bool) {
	s, ok := m.entries[key]
	return s.value, ok
}

// Value は key に対応する値を返します。存在しない場合はゼロ値です。
func (m *Indexed[K, V]) Value(key K) V {
	return m.entries[key].value
}

// Contains は key が登録済みかどうかを返します。
func (m *Indexed[K, V]) Contains(key K) bool {
	_, ok := m.entries[key]
	return ok
}

// Len は登録済みキーの数を返します。
func (m *Indexed[K, V]) Len() int {
	return len(m.keys)
}

// KeyAt は index 番目のキーを返します。範囲外の場合はゼロ値と false です。
func (m *Indexed[K, V]) KeyAt(index int) (K, bool) {
	if index < 0 || index >= len(m.keys) {
		var zero K
		return zero, false
	}
	return m.keys[index], true
}

// Keys は現在の列挙順でキーのコピーを返します。
func (m *Indexed[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range は列挙順に fn を呼び出します。fn が false を返すと中断します。
// fn の中で m を変更してはいけません。
func (m *Indexed[K, V]) Range(fn func(key K, value V) bool) {
	for _, k := range m.keys {
		if !fn(k, m.entries[k].value) {
			return
		}
	}
}

// Clear はすべてのキーを削除します。
func (m *Indexed[K, V]) Clear() {
	clear(m.entries)
	clear(m.keys)
	m.keys = m.keys[:0]
}

// Clone は列挙順を保った複製を返します。copyValue が nil の場合は値をそのまま複製します。
func (m *Indexed[K, V]) Clone(copyValue func(V) V) *Indexed[K, V] {
	out := &Indexed[K, V]{
		keys:    make([]K, len(m.keys), cap(m.keys)),
		entries: make(map[K]slot[V], len(m.entries)),
	}
	copy(out.keys, m.keys)
	for k, s := range m.entries {
		if copyValue != nil {
			s.value = copyValue(s.value)
		}
		out.entries[k] = s
	}
	return out
}
