package problem

// Builtin is the default catalog shipped with the server.
var Builtin = []Problem{
	Fallback,
	{
		ID:            "fizzbuzz",
		Title:         "FizzBuzz",
		Description:   "Print the numbers 1..N, replacing multiples of 3 with Fizz, multiples of 5 with Buzz and multiples of both with FizzBuzz.",
		InputFormat:   "A single integer N (1 <= N <= 1000).",
		OutputFormat:  "N lines.",
		ExampleInput:  "5",
		ExampleOutput: "1\n2\nFizz\n4\nBuzz",
		Difficulty:    Easy,
	},
	{
		ID:            "two-sum",
		Title:         "Two Sum",
		Description:   "Given an array of integers and a target, print the indices of the two numbers that add up to the target.",
		InputFormat:   "First line N and T. Second line N integers.",
		OutputFormat:  "Two zero-based indices i < j separated by a space.",
		ExampleInput:  "4 9\n2 7 11 15",
		ExampleOutput: "0 1",
		Difficulty:    Medium,
	},
	{
		ID:            "balanced-brackets",
		Title:         "Balanced Brackets",
		Description:   "Decide whether a string of ()[]{} characters is balanced.",
		InputFormat:   "A single string S (1 <= |S| <= 10^5).",
		OutputFormat:  "Print 'YES' if balanced, else 'NO'.",
		ExampleInput:  "{[()]}",
		ExampleOutput: "YES",
		Difficulty:    Medium,
	},
	{
		ID:            "longest-increasing-subsequence",
		Title:         "Longest Increasing Subsequence",
		Description:   "Print the length of the longest strictly increasing subsequence.",
		InputFormat:   "First line N (1 <= N <= 2*10^5). Second line N integers.",
		OutputFormat:  "A single integer.",
		ExampleInput:  "8\n10 9 2 5 3 7 101 18",
		ExampleOutput: "4",
		Difficulty:    Hard,
	},
}
