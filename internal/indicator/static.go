package indicator

// Static 是预先给定快照的 Provider，回放外部计算结果或测试时使用。
type Static map[int]map[string]float64

func (s Static) Compute(index int) Snapshot {
	values := make(map[string]float64, len(s[index]))
	for k, v := range s[index] {
		values[k] = v
	}
	return Snapshot{Index: index, Values: values}
}
