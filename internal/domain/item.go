package domain

// Item 是购物清单中的一项。
type Item struct {
	ID        uint64            `json:"id"`        // 房间内唯一，单调分配，删除后不复用
	Label     string            `json:"label"`     // 文本标签
	Quantity  int               `json:"quantity"`  // 数量，始终为正数
	Done      bool              `json:"done"`      // 是否已购买
	Reactions map[string]string `json:"reactions"` // login -> emoji，每个用户最多一个
	Version   uint64            `json:"version"`   // 最后一次修改时的房间版本号
}

// Clone 返回 Item 的深拷贝，避免 Reactions map 在房间与快照之间共享。
func (it Item) Clone() Item {
	c := it
	c.Reactions = make(map[string]string, len(it.Reactions))
	for k, v := range it.Reactions {
		c.Reactions[k] = v
	}
	return c
}
