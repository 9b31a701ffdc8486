package facesort

const (
	// Bands is the number of raw priority bands.
	Bands = 12
	// MappedBands is the number of bands after distance adjustment.
	MappedBands = 18

	// min10Init is the starting value of the closest priority-10 distance.
	min10Init = 1600
)

// fixedBands maps raw priorities 0..9 to their mapped band.
var fixedBands = [10]int32{2, 3, 4, 7, 8, 11, 12, 13, 14, 15}

// BandAverages returns the mean distance of the band pairs 1+2, 3+4 and 6+8,
// the thresholds used to interleave priority 10 and 11 faces with them.
// An empty pair averages to 0.
func BandAverages(num, dist *[Bands]int32) (avg1, avg2, avg3 int32) {
	avg := func(a, b int) int32 {
		n := num[a] + num[b]
		if n <= 0 {
			return 0
		}
		return (dist[a] + dist[b]) / n
	}
	return avg(1, 2), avg(3, 4), avg(6, 8)
}

// PriorityMap maps a raw priority to one of the 18 draw bands. Priorities 10
// and 11 are placed in front of or behind the 1+2, 3+4 and 6+8 groups by
// comparing the face distance (and, for 11, the closest priority-10 face)
// with each group's average.
func PriorityMap(p, distance, min10, avg1, avg2, avg3 int32) int32 {
	switch {
	case p >= 0 && p < 10:
		return fixedBands[p]
	case p == 10:
		switch {
		case distance > avg1:
			return 0
		case distance > avg2:
			return 5
		case distance > avg3:
			return 9
		}
		return 16
	case p == 11:
		switch {
		case distance > avg1 && min10 > avg1:
			return 1
		case distance > avg2 && (min10 > avg1 || min10 > avg2):
			return 6
		case distance > avg3 && (min10 > avg1 || min10 > avg2 || min10 > avg3):
			return 10
		}
		return 17
	}
	return 0
}

// renderKey orders faces inside a band: larger keys draw first. Farther faces
// win, and on equal distance the lower face id wins.
func renderKey(distance int32, id int) int32 {
	return int32(uint32(distance)<<16 | ^uint32(id)&0xffff)
}
