package vo

import "hash/fnv"

// Palette 协作者光标颜色
var Palette = []string{
	"#E53935", "#8E24AA", "#3949AB", "#039BE5",
	"#00897B", "#7CB342", "#FDD835", "#FB8C00",
	"#6D4C41", "#D81B60", "#5E35B1", "#00ACC1",
}

// ColorFor 同一个 userID 总是得到同一种颜色，多标签页共享
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return Palette[h.Sum32()%uint32(len(Palette))]
}
