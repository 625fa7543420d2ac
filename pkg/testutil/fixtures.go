package testutil

// GroupByABCDocs is the document set for grouping on "$a.b.c". Document i
// carries num: i. It covers every shape the path can meet on the way down:
// scalars, empty and missing objects, arrays at each level, arrays nested
// directly in arrays, and field names that only look like the path.
var GroupByABCDocs = []string{
	`{"num": 0}`,
	`{"num": 1, "a": null}`,
	`{"num": 2, "a": "scalar"}`,
	`{"num": 3, "a": {}}`,
	`{"num": 4, "a": {"x": 1, "b": "scalar"}}`,
	`{"num": 5, "a": {"b": {}}}`,
	`{"num": 6, "a": {"x": 1, "b": {}}}`,
	`{"num": 7, "a": {"x": 1, "b": {"x": 1}}}`,
	`{"num": 8, "a": {"b": {"c": "scalar"}}}`,
	`{"num": 9, "a": {"b": {"c": null}}}`,
	`{"num": 10, "a": {"b": {"c": [[1, 2], [{}], 2]}}}`,
	`{"num": 11, "a": {"x": 1, "b": {"x": 1, "c": ["scalar"]}}}`,
	`{"num": 12, "a": {"x": 1, "b": {"c": {"x": 1}}}}`,
	`{"num": 13, "a": {"b": []}}`,
	`{"num": 14, "a": {"b": [null]}}`,
	`{"num": 15, "a": {"b": ["scalar"]}}`,
	`{"num": 16, "a": {"b": [[]]}}`,
	`{"num": 17, "a": {"b": [1, {}, 2]}}`,
	`{"num": 18, "a": {"b": [[1, 2], [{}], 2]}}`,
	`{"num": 19, "a": {"x": 1, "b": [[1, 2], [{}], 2]}}`,
	`{"num": 20, "a": {"b": [{"c": "scalar"}]}}`,
	`{"num": 21, "a": {"b": [{"c": "scalar"}, {"c": "scalar2"}]}}`,
	`{"num": 22, "a": {"b": [{"c": [[1, 2], [{}], 2]}]}}`,
	`{"num": 23, "a": {"b": [1, {"c": "scalar"}, 2]}}`,
	`{"num": 24, "a": {"b": [1, {"c": [[1, 2], [{}], 2]}, 2]}}`,
	`{"num": 25, "a": {"x": 1, "b": [1, {"c": [[1, 2], [{}], 2]}, 2]}}`,
	`{"num": 26, "a": {"b": [[1, 2], [{"c": "scalar"}], 2]}}`,
	`{"num": 27, "a": {"b": [[1, 2], [{"c": [[1, 2], [{}], 2]}], 2]}}`,
	`{"num": 28, "a": {"x": 1, "b": [[1, 2], [{"c": [[1, 2], [{}], 2]}], 2]}}`,
	`{"num": 29, "a": []}`,
	`{"num": 30, "a": [null]}`,
	`{"num": 31, "a": ["scalar"]}`,
	`{"num": 32, "a": [[]]}`,
	`{"num": 33, "a": [{}]}`,
	`{"num": 34, "a": [1, {}, 2]}`,
	`{"num": 35, "a": [[1, 2], [{}], 2]}`,
	`{"num": 36, "a": [{"b": "scalar"}]}`,
	`{"num": 37, "a": [{"b": null}]}`,
	`{"num": 38, "a": [1, {"b": "scalar"}, 2]}`,
	`{"num": 39, "a": [1, {"b": []}, 2]}`,
	`{"num": 40, "a": [1, {"b": [null]}, 2]}`,
	`{"num": 41, "a": [1, {"b": ["scalar"]}, 2]}`,
	`{"num": 42, "a": [1, {"b": [[]]}, 2]}`,
	`{"num": 43, "a": [{"b": []}]}`,
	`{"num": 44, "a": [{"b": ["scalar"]}]}`,
	`{"num": 45, "a": [{"b": [[]]}]}`,
	`{"num": 46, "a": [{"b": {}}]}`,
	`{"num": 47, "a": [{"b": {"c": "scalar"}}]}`,
	`{"num": 48, "a": [{"b": {"c": null}}]}`,
	`{"num": 49, "a": [{"b": {"x": 1}}]}`,
	`{"num": 50, "a": [{"b": [{}]}]}`,
	`{"num": 51, "a": [{"b": [{"c": "scalar"}]}]}`,
	`{"num": 52, "a": [{"b": [{"c": ["scalar"]}]}]}`,
	`{"num": 53, "a": [{"b": [{"c": [[1, 2], [{}], 2]}]}]}`,
	`{"num": 54, "a": [{"b": [1, {"c": "scalar"}, 2]}]}`,
	`{"num": 55, "a": [{"b": [[1, 2], [{"c": "scalar"}], 2]}]}`,
	`{"num": 56, "a": [{"b": [1, {"c": [[1, 2], [{}], 2]}, 2]}]}`,
	`{"num": 57, "a": [{"b": [[1, 2], [{"c": [[1, 2], [{}], 2]}], 2]}]}`,
	`{"num": 58, "a": [[{"b": {"c": 1}}]]}`,
	`{"num": 59, "a": [[{"b": [{"c": 1}]}]]}`,
	`{"num": 60, "a": [{"b": {"c": 1}}, [{"b": {"c": 2}}]]}`,
	`{"num": 61, "a": [{"b": {"c": 1}}, {"b": {"c": 2}}]}`,
	`{"num": 62, "a": [{"b": {"c": 1}}, {"b": {"x": 2}}]}`,
	`{"num": 63, "a": [{"b": {"c": 1}}, {"b": [{"c": 2}, {"c": 3}]}]}`,
	`{"num": 64, "a": [{"b": [{"c": 1}, [{"c": 2}]]}]}`,
	`{"num": 65, "a": {"b": {"c": 1}}}`,
	`{"num": 66, "a": {"b": {"c": 2}}}`,
	`{"num": 67, "a": {"b": {"c": 1}, "x": 1}}`,
	`{"num": 68, "a": {"b": [{"c": 1}]}}`,
	`{"num": 69, "a": {"b": [{"c": 1}, {"c": 2}]}}`,
	`{"num": 70, "a": [{"b": [{"c": 1}]}]}`,
	`{"num": 71, "a": [{"b": {"c": [1]}}]}`,
	`{"num": 72, "a": {"b": {"c": [1]}}}`,
	`{"num": 73, "a": {"b": {"c": []}}}`,
	`{"num": 74, "a": [{"b": {"c": []}}]}`,
	`{"num": 75, "a": {"b": {"c": {}}}}`,
	`{"num": 76, "a": [{"b": {"c": {}}}]}`,
	`{"num": 77, "a": {"b": {"c": "Scalar"}}}`,
	`{"num": 78, "a": {"b": {"c": true}}}`,
	`{"num": 79, "a": {"b": {"c": false}}}`,
	`{"num": 80, "a": {"b": {"c": 1.0}}}`,
	`{"num": 81, "a": {"b": {"c": {"$numberLong": "2"}}}}`,
	`{"num": 82, "a": {"b.c": 5}}`,
	`{"num": 83, "a.b": {"c": 5}}`,
	`{"num": 84, "a": {"b": {"c.d": 1}}}`,
	`{"num": 85, "a": {"b": {"$c": 1}}}`,
	`{"num": 86, "a": {"": {"c": 1}}}`,
	`{"num": 87, "": {"b": {"c": 1}}}`,
	`{"num": 88, "a": {"b": {"c": "scalar"}}, "x": 1}`,
	`{"num": 89, "a": [{"b": {"c": "scalar"}}, {"b": {"c": "scalar2"}}]}`,
	`{"num": 90, "a": [{"b": [{"c": "scalar"}, {"c": "scalar2"}]}]}`,
	`{"num": 91, "a": [{"b": {"c": null}}, {"b": {"c": null}}]}`,
	`{"num": 92, "a": [{"b": {}}, {"b": {"c": null}}]}`,
	`{"num": 93, "a": {"b": [{"c": null}]}}`,
	`{"num": 94, "a": {"b": [{"c": null}, {"x": 1}]}}`,
	`{"num": 95, "a": [{"b": []}, {"b": []}]}`,
}

// GroupBucket is one expected group: the group key in extended JSON and the
// nums pushed into it, in insertion order.
type GroupBucket struct {
	ID   string
	Nums []int
}

// GroupByABCBuckets is the result of
// {$group: {_id: "$a.b.c", docs: {$push: "$num"}}} over GroupByABCDocs.
// Arrays nested directly inside arrays are opaque to the path: doc 58
// ({a: [[{b: {c: 1}}]]}) lands in [] while doc 70 ({a: [{b: [{c: 1}]}]})
// lands in [[1]].
var GroupByABCBuckets = []GroupBucket{
	{ID: `null`, Nums: []int{0, 1, 2, 3, 4, 5, 6, 7, 9, 82, 83, 84, 85, 86, 87}},
	{ID: `"scalar"`, Nums: []int{8, 88}},
	{ID: `[[1, 2], [{}], 2]`, Nums: []int{10}},
	{ID: `["scalar"]`, Nums: []int{11, 20, 23, 47}},
	{ID: `{"x": 1}`, Nums: []int{12}},
	{ID: `[]`, Nums: []int{13, 14, 15, 16, 17, 18, 19, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 46, 49, 58, 59, 73}},
	{ID: `["scalar", "scalar2"]`, Nums: []int{21, 89}},
	{ID: `[[[1, 2], [{}], 2]]`, Nums: []int{22, 24, 25}},
	{ID: `[[]]`, Nums: []int{39, 40, 41, 42, 43, 44, 45, 50, 55, 57, 74}},
	{ID: `[null]`, Nums: []int{48, 92, 93, 94}},
	{ID: `[["scalar"]]`, Nums: []int{51, 54}},
	{ID: `[[["scalar"]]]`, Nums: []int{52}},
	{ID: `[[[[1, 2], [{}], 2]]]`, Nums: []int{53, 56}},
	{ID: `[1]`, Nums: []int{60, 62, 68, 72}},
	{ID: `[1, 2]`, Nums: []int{61, 69}},
	{ID: `[1, [2, 3]]`, Nums: []int{63}},
	{ID: `[[1]]`, Nums: []int{64, 70, 71}},
	{ID: `1`, Nums: []int{65, 67, 80}},
	{ID: `2`, Nums: []int{66, 81}},
	{ID: `{}`, Nums: []int{75}},
	{ID: `[{}]`, Nums: []int{76}},
	{ID: `"Scalar"`, Nums: []int{77}},
	{ID: `true`, Nums: []int{78}},
	{ID: `false`, Nums: []int{79}},
	{ID: `[["scalar", "scalar2"]]`, Nums: []int{90}},
	{ID: `[null, null]`, Nums: []int{91}},
	{ID: `[[], []]`, Nums: []int{95}},
}

// ProjectionDocs mixes the shapes a reconstruction has to get right:
// nested objects, arrays of objects and scalars, arrays inside arrays,
// empty values, null, and odd field names.
var ProjectionDocs = []string{
	`{"_id": 0, "a": 1, "b": 2}`,
	`{"_id": 1, "a": {"b": 1, "c": 2, "m": 3, "n": 4}}`,
	`{"_id": 2, "a": [{"b": 1}, {"c": 2}, 3, [{"b": 4}], [], {}]}`,
	`{"_id": 3, "a": [[{"b": 1}]]}`,
	`{"_id": 4, "a": [{"b": 1}]}`,
	`{"_id": 5, "a": {"b": [{"c": [1, {"d": 2}]}, {"c": {"d": [3]}}]}}`,
	`{"_id": 6, "a": null, "x": {"y": {"z": "deep"}}}`,
	`{"_id": 7}`,
	`{"_id": 8, "a": [], "b": {}}`,
	`{"_id": 9, "a": {"b": {}}, "m": [null, [null]]}`,
	`{"_id": 10, "": {"": 1}, "a": {"": [2]}}`,
	`{"_id": 11, "a": {"b.c": 1, "$d": 2}, "a.b": 3}`,
	`{"_id": {"k": 1, "l": [2]}, "a": {"m": "x", "n": "y"}}`,
	`{"_id": 13, "a": [{"m": 1}, {"n": 2}, {"m": 3, "n": 4, "o": 5}]}`,
	`{"_id": 14, "x": "hello", "a": "scalar"}`,
}

// ProjectionCases are inclusion projections checked against ProjectionDocs.
var ProjectionCases = []string{
	`{"a": 1}`,
	`{"a": 1, "_id": 0}`,
	`{"a.b": 1}`,
	`{"a.b": 1, "_id": 0}`,
	`{"a.b.c": 1}`,
	`{"a.b.c.d": 1}`,
	`{"a.m": 1, "a.n": 1}`,
	`{"a.b": 1, "x.y.z": 1}`,
	`{"x": 1, "m": 1}`,
	`{"_id": 1}`,
	`{"_id.k": 1, "a.m": 1}`,
	`{"": 1}`,
	`{".": 1}`,
	`{"a.": 1}`,
	`{"missing": 1}`,
	`{"b": 1, "_id": 0}`,
}
