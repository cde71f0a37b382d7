package taxonomy

var defaultEntries = []ClassEntry{
	{0, "deer", Herbivores},
	{1, "gazelle", Herbivores},
	{2, "antelope", Herbivores},
	{3, "springbok", Herbivores},
	{4, "oryx", Herbivores},
	{5, "sable_antelope", Herbivores},
	{6, "duiker", Herbivores},
	{7, "warthog", Carnivores},
	{8, "wild_boar", Carnivores},
	{9, "hyena", Carnivores},
	{10, "jackal", Carnivores},
	{11, "fox", Carnivores},
	{13, "pangolin", SmallMammals},
	{14, "baboon", Primates},
	{15, "lion", LargeMammals},
	{16, "leopard", LargeMammals},
	{17, "cheetah", Carnivores},
	{18, "buffalo", LargeMammals},
	{19, "hippopotamus", LargeMammals},
	{20, "elephant", LargeMammals},
	{21, "bear", LargeMammals},
	{22, "zebra", LargeMammals},
	{23, "giraffe", LargeMammals},
	{24, "monkey", Primates},
	{25, "aardvark", SmallMammals},
	{26, "porcupine", SmallMammals},
	{27, "ostrich", Birds},
	{28, "hornbill", Birds},
	{29, "secretary_bird", Birds},
	{30, "vulture", Birds},
	{31, "eagle", Birds},
	{32, "owl", Birds},
	{33, "guinea_fowl", Birds},
	{34, "crocodile", Reptiles},
	{35, "monitor_lizard", Reptiles},
	{36, "python", Reptiles},
	{37, "tortoise", Reptiles},
	{38, "civet", SmallMammals},
	{39, "genet", SmallMammals},
	{40, "mongoose", SmallMammals},
	{41, "badger", SmallMammals},
	{42, "hedgehog", SmallMammals},
	{43, "skunk", SmallMammals},
	{44, "bat", SmallMammals},
	{45, "tiger", LargeMammals},
	{46, "rhino", LargeMammals},
	{47, "wildebeest", LargeMammals},
}

// DefaultTable returns the built-in 47-class wildlife table.
func DefaultTable() *Table {
	t, err := NewTable(defaultEntries)
	if err != nil {
		panic(err)
	}
	return t
}
