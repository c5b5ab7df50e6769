package app

import "github.com/John-Robertt/checkin/internal/domain"

// GroupByFamily 把名单记录按 family key 分组为 FamilyGroup。
//
// - 组按 key 首次出现的顺序排列（稳定分组，不排序），保证重放顺序确定
// - 组内成员保持输入行顺序：这正是候选号码的重试顺序（第一行最先尝试）
// - 每个 key 只产生一个组；key=="" 的组是独立成员集合，不是家庭
func GroupByFamily(records []domain.AttendanceRecord) []domain.FamilyGroup {
	index := make(map[string]int, 64)
	groups := make([]domain.FamilyGroup, 0, 64)

	for _, r := range records {
		if i, ok := index[r.FamilyKey]; ok {
			groups[i].Members = append(groups[i].Members, r)
			continue
		}
		index[r.FamilyKey] = len(groups)
		groups = append(groups, domain.FamilyGroup{
			Key:     r.FamilyKey,
			Members: []domain.AttendanceRecord{r},
		})
	}
	return groups
}
