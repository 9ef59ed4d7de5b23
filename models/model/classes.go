package model

import "github.com/pkg/errors"

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a family to its full list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style Family
	// Classes that are supported and mappable.
	Classes []OutputClass
}

// Name returns the label of idx, or an error if idx is out of range.
func (s OutputClassSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", errors.Errorf("index %d out of range for style %q", idx, s.Style)
	}
	return s.Classes[idx].Name, nil
}

// COCOClasses is the full 80 COCO classes plus "__background__" at index 0.
var COCOClasses = OutputClassSet{
	Style: ModelFamilyCOCO,
	Classes: []OutputClass{
		{0, "__background__"},
		{1, "person"},
		{2, "bicycle"},
		{3, "car"},
		{4, "motorcycle"},
		{5, "airplane"},
		{6, "bus"},
		{7, "train"},
		{8, "truck"},
		{9, "boat"},
		{10, "traffic light"},
		{11, "fire hydrant"},
		{12, "stop sign"},
		{13, "parking meter"},
		{14, "bench"},
		{15, "bird"},
		{16, "cat"},
		{17, "dog"},
		{18, "horse"},
		{19, "sheep"},
		{20, "cow"},
		{21, "elephant"},
		{22, "bear"},
		{23, "zebra"},
		{24, "giraffe"},
		{25, "backpack"},
		{26, "umbrella"},
		{27, "handbag"},
		{28, "tie"},
		{29, "suitcase"},
		{30, "frisbee"},
		{31, "skis"},
		{32, "snowboard"},
		{33, "sports ball"},
		{34, "kite"},
		{35, "baseball bat"},
		{36, "baseball glove"},
		{37, "skateboard"},
		{38, "surfboard"},
		{39, "tennis racket"},
		{40, "bottle"},
		{41, "wine glass"},
		{42, "cup"},
		{43, "fork"},
		{44, "knife"},
		{45, "spoon"},
		{46, "bowl"},
		{47, "banana"},
		{48, "apple"},
		{49, "sandwich"},
		{50, "orange"},
		{51, "broccoli"},
		{52, "carrot"},
		{53, "hot dog"},
		{54, "pizza"},
		{55, "donut"},
		{56, "cake"},
		{57, "chair"},
		{58, "couch"},
		{59, "potted plant"},
		{60, "bed"},
		{61, "dining table"},
		{62, "toilet"},
		{63, "tv"},
		{64, "laptop"},
		{65, "mouse"},
		{66, "remote"},
		{67, "keyboard"},
		{68, "cell phone"},
		{69, "microwave"},
		{70, "oven"},
		{71, "toaster"},
		{72, "sink"},
		{73, "refrigerator"},
		{74, "book"},
		{75, "clock"},
		{76, "vase"},
		{77, "scissors"},
		{78, "teddy bear"},
		{79, "hair drier"},
		{80, "toothbrush"},
	},
}

// COCO91Classes is the 91-id COCO labelling that DETR checkpoints predict over.
// Ids that were never annotated are "N/A". The model emits one extra trailing
// logit for "no object" which is not part of this set.
var COCO91Classes = OutputClassSet{
	Style: ModelFamilyCOCO91,
	Classes: []OutputClass{
		{0, "N/A"},
		{1, "person"},
		{2, "bicycle"},
		{3, "car"},
		{4, "motorcycle"},
		{5, "airplane"},
		{6, "bus"},
		{7, "train"},
		{8, "truck"},
		{9, "boat"},
		{10, "traffic light"},
		{11, "fire hydrant"},
		{12, "N/A"},
		{13, "stop sign"},
		{14, "parking meter"},
		{15, "bench"},
		{16, "bird"},
		{17, "cat"},
		{18, "dog"},
		{19, "horse"},
		{20, "sheep"},
		{21, "cow"},
		{22, "elephant"},
		{23, "bear"},
		{24, "zebra"},
		{25, "giraffe"},
		{26, "N/A"},
		{27, "backpack"},
		{28, "umbrella"},
		{29, "N/A"},
		{30, "N/A"},
		{31, "handbag"},
		{32, "tie"},
		{33, "suitcase"},
		{34, "frisbee"},
		{35, "skis"},
		{36, "snowboard"},
		{37, "sports ball"},
		{38, "kite"},
		{39, "baseball bat"},
		{40, "baseball glove"},
		{41, "skateboard"},
		{42, "surfboard"},
		{43, "tennis racket"},
		{44, "bottle"},
		{45, "N/A"},
		{46, "wine glass"},
		{47, "cup"},
		{48, "fork"},
		{49, "knife"},
		{50, "spoon"},
		{51, "bowl"},
		{52, "banana"},
		{53, "apple"},
		{54, "sandwich"},
		{55, "orange"},
		{56, "broccoli"},
		{57, "carrot"},
		{58, "hot dog"},
		{59, "pizza"},
		{60, "donut"},
		{61, "cake"},
		{62, "chair"},
		{63, "couch"},
		{64, "potted plant"},
		{65, "bed"},
		{66, "N/A"},
		{67, "dining table"},
		{68, "N/A"},
		{69, "N/A"},
		{70, "toilet"},
		{71, "N/A"},
		{72, "tv"},
		{73, "laptop"},
		{74, "mouse"},
		{75, "remote"},
		{76, "keyboard"},
		{77, "cell phone"},
		{78, "microwave"},
		{79, "oven"},
		{80, "toaster"},
		{81, "sink"},
		{82, "refrigerator"},
		{83, "N/A"},
		{84, "book"},
		{85, "clock"},
		{86, "vase"},
		{87, "scissors"},
		{88, "teddy bear"},
		{89, "hair drier"},
		{90, "toothbrush"},
	},
}

// YOLOClasses is the 80 COCO classes (no background).
// YOLO models index directly into this zero-based list.
var YOLOClasses = OutputClassSet{
	Style: ModelFamilyYOLO,
	Classes: func() []OutputClass {
		classes := make([]OutputClass, len(COCOClasses.Classes)-1) // drop background
		for i := 1; i < len(COCOClasses.Classes); i++ {
			classes[i-1] = OutputClass{i - 1, COCOClasses.Classes[i].Name}
		}
		return classes
	}(),
}

// AllClassSets collects every OutputClassSet in one place.
var AllClassSets = []OutputClassSet{
	COCOClasses,
	COCO91Classes,
	YOLOClasses,
}

// LookupName returns the class name for a given style and index.
// If index is out of range, it returns an empty string.
func LookupName(style Family, idx int) string {
	for _, set := range AllClassSets {
		if set.Style == style {
			name, _ := set.Name(idx)
			return name
		}
	}
	return ""
}
