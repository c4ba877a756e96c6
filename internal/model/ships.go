package model

const (
	ShipClassCapsule       = "capsule"
	ShipClassShuttle       = "shuttle"
	ShipClassFrigate       = "frigate"
	ShipClassDestroyer     = "destroyer"
	ShipClassCruiser       = "cruiser"
	ShipClassBattlecruiser = "battlecruiser"
	ShipClassBattleship    = "battleship"
	ShipClassIndustrial    = "industrial"
	ShipClassMining        = "mining"
	ShipClassFreighter     = "freighter"
	ShipClassCapital       = "capital"
	ShipClassSupercapital  = "supercapital"
	ShipClassStructure     = "structure"
)

var shipGroupClasses = map[int64]string{
	29:   ShipClassCapsule,
	31:   ShipClassShuttle,
	25:   ShipClassFrigate,
	324:  ShipClassFrigate,
	830:  ShipClassFrigate,
	831:  ShipClassFrigate,
	834:  ShipClassFrigate,
	893:  ShipClassFrigate,
	420:  ShipClassDestroyer,
	541:  ShipClassDestroyer,
	1305: ShipClassDestroyer,
	1534: ShipClassDestroyer,
	26:   ShipClassCruiser,
	358:  ShipClassCruiser,
	832:  ShipClassCruiser,
	833:  ShipClassCruiser,
	894:  ShipClassCruiser,
	906:  ShipClassCruiser,
	963:  ShipClassCruiser,
	419:  ShipClassBattlecruiser,
	540:  ShipClassBattlecruiser,
	1201: ShipClassBattlecruiser,
	27:   ShipClassBattleship,
	898:  ShipClassBattleship,
	900:  ShipClassBattleship,
	28:   ShipClassIndustrial,
	380:  ShipClassIndustrial,
	1202: ShipClassIndustrial,
	463:  ShipClassMining,
	543:  ShipClassMining,
	941:  ShipClassMining,
	513:  ShipClassFreighter,
	902:  ShipClassFreighter,
	485:  ShipClassCapital,
	547:  ShipClassCapital,
	1538: ShipClassCapital,
	883:  ShipClassCapital,
	30:   ShipClassSupercapital,
	659:  ShipClassSupercapital,
	1657: ShipClassStructure,
	1404: ShipClassStructure,
	1406: ShipClassStructure,
	1408: ShipClassStructure,
	365:  ShipClassStructure,
}

func ShipClassForGroup(groupID int64) string {
	return shipGroupClasses[groupID]
}

func KnownShipClass(class string) bool {
	switch class {
	case ShipClassCapsule, ShipClassShuttle, ShipClassFrigate, ShipClassDestroyer,
		ShipClassCruiser, ShipClassBattlecruiser, ShipClassBattleship, ShipClassIndustrial,
		ShipClassMining, ShipClassFreighter, ShipClassCapital, ShipClassSupercapital,
		ShipClassStructure:
		return true
	}
	return false
}
