package game

import (
	"testing"

	"github.com/dungeonpunk/crawler-engine/pkg/proto"
)

func TestHubInfoDistance(t *testing.T) {
	cases := []struct {
		x, y int
		feet int
	}{
		{0, 0, 0},
		{1, 0, 5},
		{3, 4, 25},  // 5 cells away
		{-3, -4, 25},
		{1, 1, 7}, // sqrt(2)*5 rounds to 7
	}
	for _, c := range cases {
		h := hubInfo(1, c.x, c.y)
		if h.DistFeet != c.feet {
			t.Errorf("hubInfo(%d,%d).DistFeet = %d, want %d", c.x, c.y, h.DistFeet, c.feet)
		}
		if h.X != 0 || h.Y != 0 || h.Level != 1 {
			t.Errorf("hub anchor = (%d,%d) level %d, want origin", h.X, h.Y, h.Level)
		}
	}
}

func TestDirToHub(t *testing.T) {
	cases := []struct {
		x, y int
		want proto.Dir
	}{
		{0, 0, proto.DirN}, // at the hub; N is the neutral pointer
		{5, 0, proto.DirW},
		{-5, 0, proto.DirE},
		{0, 5, proto.DirN},
		{0, -5, proto.DirS},
		{5, 3, proto.DirW},  // dominant axis wins
		{3, 5, proto.DirN},
		{4, 4, proto.DirW}, // tie breaks to the x axis
		{-2, -7, proto.DirS},
	}
	for _, c := range cases {
		if got := dirToHub(c.x, c.y); got != c.want {
			t.Errorf("dirToHub(%d,%d) = %s, want %s", c.x, c.y, got, c.want)
		}
	}
}
