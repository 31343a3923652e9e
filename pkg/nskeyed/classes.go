package nskeyed

// classHierarchy lists the $classes array NSKeyedArchiver writes alongside
// $classname for each class this package can produce: the class itself
// followed by its Objective-C superclasses, ending at NSObject.
var classHierarchy = map[string][]string{
	"NSDictionary":        {"NSDictionary", "NSObject"},
	"NSMutableDictionary": {"NSMutableDictionary", "NSDictionary", "NSObject"},
	"NSArray":             {"NSArray", "NSObject"},
	"NSMutableArray":      {"NSMutableArray", "NSArray", "NSObject"},
	"NSSet":               {"NSSet", "NSObject"},
	"NSMutableSet":        {"NSMutableSet", "NSSet", "NSObject"},
	"NSDate":              {"NSDate", "NSObject"},
	"NSUUID":              {"NSUUID", "NSObject"},
	"NSURL":               {"NSURL", "NSObject"},
	"NSError":             {"NSError", "NSObject"},
	"NSException":         {"NSException", "NSObject"},
	"NSNull":              {"NSNull", "NSObject"},
	"XCTestConfiguration": {"XCTestConfiguration", "NSObject"},
}

func classes(name string) []string {
	if h, ok := classHierarchy[name]; ok {
		return h
	}
	return []string{name, "NSObject"}
}
