package cmdmsg

// Mechanism is the command table of the cone/spout controller firmware.
var Mechanism = []Command{
	{Name: "move_cone", Format: "lii"}, // steps, speed, direction
	{Name: "cone_done"},
	{Name: "move_spout", Format: "lii"}, // degrees, speed, direction
	{Name: "spout_done"},
	{Name: "move_both", Format: "lilii"}, // cone_steps, cone_speed, spout_degrees, spout_speed, direction
	{Name: "both_done"},
	{Name: "zero_spout"},
	{Name: "zero_done"},
	{Name: "error", Format: "s"},
}
