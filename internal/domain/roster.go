package domain

// AttendanceRecord 是名单中的一行（加载后只读）。
//
// 约束：
// - RawNumber 保留原始号码（只去掉首尾空白与引号），失败清单必须原样回写
// - Row 是数据行号（从 1 开始，不含表头），用于追溯
type AttendanceRecord struct {
	FamilyKey string
	Name      string
	RawNumber string
	Row       int
}

// FamilyGroup 是按 family key 聚合后的签到单元集合。
//
// 不变量：
// - Members 顺序与输入行顺序一致（同时也是候选号码的重试顺序）
// - Key=="" 是哨兵：组内成员彼此独立，各自作为单人单元处理
type FamilyGroup struct {
	Key     string
	Members []AttendanceRecord
}

// IsIndependent 表示该组是否为“无家庭分组”的独立成员集合。
func (g FamilyGroup) IsIndependent() bool { return g.Key == "" }

// Names 按成员顺序返回名字（首个名字同时用于访客路径）。
func (g FamilyGroup) Names() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m.Name)
	}
	return out
}
