package modbus

import "sort"

// ReadCommand is one contiguous register range to fetch from a slave in a
// single Modbus transaction.
type ReadCommand struct {
	SlaveID      int
	Area         Area
	StartAddress int
	Count        int
	Points       []Point // points this command's response will satisfy
}

// maxRegistersPerCommand bounds a single command's register span so its
// encoded payload never exceeds the wire frame's byte budget (spec §4.8:
// "tags sorted into byte-capped commands").
const maxRegistersPerCommand = 120

// SortTags groups points sharing (slave, area) into maximally packed,
// address-sorted ReadCommands, each capped at maxRegs registers. Points are
// assigned to the leftmost-fitting command: a point extends the current
// command's span across any address gap as long as the command still fits
// under maxRegs, instead of starting a new command at the first gap (spec
// §8: tags at 0,1,2,5,6,1000 under a 120-register cap sort to exactly two
// commands, (0,7) and (1000,1)). A point wider than the cap on its own still
// gets its own command, whose Count is clamped to maxRegs.
func SortTags(points []Point, maxRegs int) []ReadCommand {
	if maxRegs <= 0 {
		maxRegs = maxRegistersPerCommand
	}
	type key struct {
		slave int
		area  Area
	}
	groups := make(map[key][]Point)
	var order []key
	for _, p := range points {
		k := key{p.SlaveID, p.Area}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	var out []ReadCommand
	for _, k := range order {
		pts := groups[k]
		sort.Slice(pts, func(i, j int) bool { return pts[i].StartAddress < pts[j].StartAddress })

		var cur *ReadCommand
		for _, p := range pts {
			span := p.registerSpan()
			end := p.StartAddress + span

			if cur != nil && end-cur.StartAddress <= maxRegs {
				if end > cur.StartAddress+cur.Count {
					cur.Count = end - cur.StartAddress
				}
				cur.Points = append(cur.Points, p)
				continue
			}

			if cur != nil {
				out = append(out, *cur)
			}
			count := span
			if count > maxRegs {
				count = maxRegs
			}
			cur = &ReadCommand{
				SlaveID: k.slave, Area: k.area, StartAddress: p.StartAddress,
				Count: count, Points: []Point{p},
			}
		}
		if cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}
