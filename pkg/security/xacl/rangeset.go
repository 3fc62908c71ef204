package xacl

import (
	"fmt"
	"slices"
	"sort"
)

// Range 闭区间 [Lo, Hi]。
type Range[T any] struct {
	Lo, Hi T
}

// RangeSet 有序、互不重叠的闭区间集合，构建后只读。
//
// 端口与 IP 规则共用此结构：cmp 定义全序，next 返回后继值
// （已是最大值时返回 false），用于判断多个相邻区间是否连续覆盖。
type RangeSet[T any] struct {
	ranges []Range[T]
	cmp    func(a, b T) int
	next   func(T) (T, bool)
}

// NewRangeSet 排序并校验区间集合。
// 完全相同的区间返回 [ErrDuplicateRule]，部分重叠返回 [ErrOverlappingRule]。
// 相邻但不重叠的区间（如 80-89 与 90-99）是合法的。
func NewRangeSet[T any](cmp func(a, b T) int, next func(T) (T, bool), rs []Range[T]) (*RangeSet[T], error) {
	sorted := slices.Clone(rs)
	for _, r := range sorted {
		if cmp(r.Lo, r.Hi) > 0 {
			return nil, fmt.Errorf("xacl: range lower bound %v exceeds upper bound %v", r.Lo, r.Hi)
		}
	}
	slices.SortFunc(sorted, func(a, b Range[T]) int {
		if c := cmp(a.Lo, b.Lo); c != 0 {
			return c
		}
		return cmp(a.Hi, b.Hi)
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cmp(prev.Lo, cur.Lo) == 0 && cmp(prev.Hi, cur.Hi) == 0 {
			return nil, fmt.Errorf("%w: %v-%v", ErrDuplicateRule, cur.Lo, cur.Hi)
		}
		if cmp(cur.Lo, prev.Hi) <= 0 {
			return nil, fmt.Errorf("%w: %v-%v overlaps %v-%v", ErrOverlappingRule, prev.Lo, prev.Hi, cur.Lo, cur.Hi)
		}
	}
	return &RangeSet[T]{ranges: sorted, cmp: cmp, next: next}, nil
}

// Len 返回区间数量。
func (s *RangeSet[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ranges)
}

// Ranges 按升序返回区间副本。
func (s *RangeSet[T]) Ranges() []Range[T] {
	if s == nil {
		return nil
	}
	return slices.Clone(s.ranges)
}

// Contains 二分查找包含 v 的区间。
func (s *RangeSet[T]) Contains(v T) (Range[T], bool) {
	if s.Len() == 0 {
		return Range[T]{}, false
	}
	// 第一个 Lo > v 的区间之前的那个区间是唯一候选
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.cmp(s.ranges[i].Lo, v) > 0
	})
	if i == 0 {
		return Range[T]{}, false
	}
	r := s.ranges[i-1]
	if s.cmp(v, r.Hi) <= 0 {
		return r, true
	}
	return Range[T]{}, false
}

// Covers 报告集合的并集是否完整覆盖 r。
func (s *RangeSet[T]) Covers(r Range[T]) bool {
	cur := r.Lo
	for {
		hit, ok := s.Contains(cur)
		if !ok {
			return false
		}
		if s.cmp(hit.Hi, r.Hi) >= 0 {
			return true
		}
		if cur, ok = s.next(hit.Hi); !ok {
			return true
		}
	}
}

// Overlaps 报告集合中是否有区间与 r 相交。
func (s *RangeSet[T]) Overlaps(r Range[T]) bool {
	if s.Len() == 0 {
		return false
	}
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.cmp(s.ranges[i].Hi, r.Lo) >= 0
	})
	return i < len(s.ranges) && s.cmp(s.ranges[i].Lo, r.Hi) <= 0
}
