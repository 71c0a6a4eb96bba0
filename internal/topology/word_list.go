package topology

// Word pools for memorable room ids. A generated id takes one word from each
// of three distinct pools.
var wordPools = [][]string{
	{ // creatures
		"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
		"fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "narwhal", "penguin", "flamingo", "toucan",
		"dragon", "unicorn", "griffin", "phoenix", "gnome", "pixie", "mermaid", "sprite",
	},
	{ // food
		"pancake", "waffle", "ramen", "curry", "taco", "dumpling", "noodle", "risotto", "falafel", "samosa",
		"muffin", "cocoa", "toffee", "biscuit", "cupcake", "nugget", "pretzel", "bagel", "crumble", "sorbet",
	},
	{ // qualities
		"tiny", "happy", "sleepy", "fluffy", "sparkly", "cozy", "shiny", "golden", "silver", "crimson",
		"emerald", "brave", "calm", "swift", "silent", "bouncy", "fuzzy", "plucky", "merry", "gentle",
	},
	{ // places and things
		"meadow", "willow", "ember", "pebble", "lantern", "puddle", "cottage", "rocket", "comet", "orbit",
		"nebula", "canyon", "ridge", "harbor", "glacier", "thimble", "button", "marble", "breeze", "sunbeam",
	},
}
